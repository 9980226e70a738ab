package model

// Network is one EVM chain watched for invoice payments. Name is unique.
type Network struct {
	Name     string `json:"name" mapstructure:"name"`
	ChainID  uint64 `json:"id" mapstructure:"id"`
	RPCURL   string `json:"link" mapstructure:"link"`
	Contract string `json:"contract" mapstructure:"contract"`
}
