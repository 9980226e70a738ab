package model

// DeadLetter records a log whose processing failed.
type DeadLetter struct {
	ID        int64     `json:"id,omitempty"`
	Network   string    `json:"network"`
	Stage     string    `json:"stage"`
	Error     string    `json:"error"`
	Record    LogRecord `json:"record"`
	CreatedAt string    `json:"created_at"`
}

const (
	StageDecode = "decode"
	StageApply  = "apply"
)
