package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"invoiceMonitor/internal/model"
)

// JsonlDeadLetters appends dead letters to a JSONL file.
type JsonlDeadLetters struct {
	path string
	mu   sync.Mutex
}

func NewJsonlDeadLetters(path string) *JsonlDeadLetters {
	return &JsonlDeadLetters{path: path}
}

// PutDeadLetter appends one line. Pollers of different networks may call it concurrently.
func (s *JsonlDeadLetters) PutDeadLetter(_ context.Context, letter model.DeadLetter) error {
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dead letter dir: %w", err)
		}
	}

	line, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open dead letter file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if _, err := writer.Write(line); err != nil {
		return fmt.Errorf("write dead letter: %w", err)
	}
	if err := writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush dead letters: %w", err)
	}
	return nil
}

// ReadJsonlDeadLetters loads every dead letter from path.
func ReadJsonlDeadLetters(path string) ([]model.DeadLetter, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dead letter file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	var letters []model.DeadLetter
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var letter model.DeadLetter
		if err := json.Unmarshal(scanner.Bytes(), &letter); err != nil {
			return nil, fmt.Errorf("parse dead letter: %w", err)
		}
		letters = append(letters, letter)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan dead letters: %w", err)
	}
	return letters, nil
}

// JsonlDeadLetterQueue serves the letters of a JSONL file to replay.
// Letters are numbered by line, starting at 1. Flush rewrites the file
// without the resolved ones.
type JsonlDeadLetterQueue struct {
	path     string
	letters  []model.DeadLetter
	resolved map[int64]bool
}

func OpenJsonlDeadLetterQueue(path string) (*JsonlDeadLetterQueue, error) {
	letters, err := ReadJsonlDeadLetters(path)
	if err != nil {
		return nil, err
	}
	for i := range letters {
		letters[i].ID = int64(i + 1)
	}
	return &JsonlDeadLetterQueue{path: path, letters: letters, resolved: make(map[int64]bool)}, nil
}

func (q *JsonlDeadLetterQueue) PendingDeadLetters(_ context.Context, network string, limit int) ([]model.DeadLetter, error) {
	var out []model.DeadLetter
	for _, letter := range q.letters {
		if q.resolved[letter.ID] || (network != "" && letter.Network != network) {
			continue
		}
		out = append(out, letter)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (q *JsonlDeadLetterQueue) ResolveDeadLetter(_ context.Context, id int64) error {
	if id < 1 || id > int64(len(q.letters)) {
		return fmt.Errorf("dead letter %d: %w", id, ErrNotFound)
	}
	q.resolved[id] = true
	return nil
}

// Flush replaces the file with the letters still pending.
func (q *JsonlDeadLetterQueue) Flush() error {
	tmp := q.path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open dead letter file: %w", err)
	}

	writer := bufio.NewWriter(file)
	for _, letter := range q.letters {
		if q.resolved[letter.ID] {
			continue
		}
		letter.ID = 0
		line, err := json.Marshal(letter)
		if err != nil {
			file.Close()
			return fmt.Errorf("marshal dead letter: %w", err)
		}
		writer.Write(line)
		writer.WriteByte('\n')
	}
	if err := writer.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("flush dead letters: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close dead letter file: %w", err)
	}
	if err := os.Rename(tmp, q.path); err != nil {
		return fmt.Errorf("replace dead letter file: %w", err)
	}
	return nil
}
