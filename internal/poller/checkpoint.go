package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Checkpoint tracks the last processed block of one network.
type Checkpoint struct {
	LastProcessedBlock uint64 `json:"last_processed_block"`
	UpdatedAt          string `json:"updated_at"`
}

type checkpointFile struct {
	Networks map[string]Checkpoint `json:"networks"`
}

// FileCheckpointStore persists every network's checkpoint in one JSON file.
type FileCheckpointStore struct {
	path string
	mu   sync.Mutex
}

func NewFileCheckpointStore(path string) *FileCheckpointStore {
	return &FileCheckpointStore{path: path}
}

func (c *FileCheckpointStore) Load(_ context.Context, network string) (uint64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	file, err := c.read()
	if err != nil {
		return 0, false, err
	}
	cp, ok := file.Networks[network]
	if !ok {
		return 0, false, nil
	}
	return cp.LastProcessedBlock, true, nil
}

// Save writes the checkpoint for network. A lower block never replaces a higher one.
func (c *FileCheckpointStore) Save(_ context.Context, network string, lastProcessed uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	file, err := c.read()
	if err != nil {
		return err
	}
	if current, ok := file.Networks[network]; ok && current.LastProcessedBlock > lastProcessed {
		return nil
	}
	file.Networks[network] = Checkpoint{
		LastProcessedBlock: lastProcessed,
		UpdatedAt:          time.Now().UTC().Format(time.RFC3339Nano),
	}

	dir := filepath.Dir(c.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	data, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

func (c *FileCheckpointStore) read() (checkpointFile, error) {
	file := checkpointFile{Networks: map[string]Checkpoint{}}

	stat, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return file, nil
		}
		return file, fmt.Errorf("stat checkpoint: %w", err)
	}
	if stat.IsDir() {
		return file, fmt.Errorf("checkpoint path is a directory")
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return file, fmt.Errorf("read checkpoint: %w", err)
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return file, fmt.Errorf("parse checkpoint: %w", err)
	}
	if file.Networks == nil {
		file.Networks = map[string]Checkpoint{}
	}
	return file, nil
}
