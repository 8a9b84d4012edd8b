// Package longterm implements memory.LongTermStore as an append-only JSONL
// learning log, the same write-temp-append durability pattern backlog uses
// for its completion history (spec §3, §4.4, §6).
package longterm

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// entry is one line of the learning log.
type entry struct {
	Hash       string    `json:"hash"`
	Content    string    `json:"content"`
	Source     string    `json:"source"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Store is a durable, append-only log of learnings, deduplicated on
// (hash(content), source) (spec §4.4 "StoreLearning... Idempotent").
type Store struct {
	mu   sync.Mutex
	file *os.File
	seen map[string]bool
}

// Open loads (or initializes) a learning log at
// <dir>/.backlog/learnings.jsonl.
func Open(dir string) (*Store, error) {
	path := filepath.Join(dir, ".backlog", "learnings.jsonl")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("longterm: mkdir: %w", err)
	}

	s := &Store{seen: make(map[string]bool)}

	if data, err := os.ReadFile(path); err == nil {
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			var e entry
			if err := json.Unmarshal(scanner.Bytes(), &e); err == nil {
				s.seen[e.Hash] = true
			}
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("longterm: read: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("longterm: open: %w", err)
	}
	s.file = f
	return s, nil
}

// Close releases the open file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// StoreLearning appends content if (hash(content), source) was not
// already recorded.
func (s *Store) StoreLearning(_ context.Context, content, source string, confidence float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hashOf(content, source)
	if s.seen[key] {
		return nil
	}

	e := entry{Hash: key, Content: content, Source: source, Confidence: confidence, Timestamp: time.Now()}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("longterm: marshal: %w", err)
	}
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("longterm: write: %w", err)
	}
	s.seen[key] = true
	return nil
}

func hashOf(content, source string) string {
	sum := sha256.Sum256([]byte(content + "\x00" + source))
	return hex.EncodeToString(sum[:])
}
