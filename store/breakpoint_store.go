// Package store persists breakpoint declarations between sessions.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fansqz/go-debug-mediator/debugger"
	"gopkg.in/yaml.v3"
)

// breakpointFile is the on-disk layout.
type breakpointFile struct {
	Version     int               `yaml:"version"`
	Breakpoints []breakpointEntry `yaml:"breakpoints"`
}

type breakpointEntry struct {
	File      string `yaml:"file"`
	Line      int    `yaml:"line"`
	Condition string `yaml:"condition,omitempty"`
	Enabled   bool   `yaml:"enabled"`
}

const fileVersion = 1

// YAMLStore keeps breakpoints in a YAML file. Verification state is never
// written; it belongs to a live session.
type YAMLStore struct {
	mutex sync.Mutex
	path  string
}

func NewYAMLStore(path string) *YAMLStore {
	return &YAMLStore{path: path}
}

// Load returns the stored breakpoints; a missing file yields none.
func (s *YAMLStore) Load() ([]*debugger.Breakpoint, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	var content breakpointFile
	if err = yaml.Unmarshal(data, &content); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if content.Version > fileVersion {
		return nil, fmt.Errorf("%s: unsupported version %d", s.path, content.Version)
	}
	answer := make([]*debugger.Breakpoint, 0, len(content.Breakpoints))
	for _, entry := range content.Breakpoints {
		answer = append(answer, &debugger.Breakpoint{
			File:      entry.File,
			Line:      entry.Line,
			Condition: entry.Condition,
			Enabled:   entry.Enabled,
		})
	}
	return answer, nil
}

// Save replaces the file atomically.
func (s *YAMLStore) Save(breakpoints []*debugger.Breakpoint) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	content := breakpointFile{Version: fileVersion, Breakpoints: make([]breakpointEntry, 0, len(breakpoints))}
	for _, bp := range breakpoints {
		content.Breakpoints = append(content.Breakpoints, breakpointEntry{
			File:      bp.File,
			Line:      bp.Line,
			Condition: bp.Condition,
			Enabled:   bp.Enabled,
		})
	}
	data, err := yaml.Marshal(&content)
	if err != nil {
		return fmt.Errorf("encode breakpoints: %w", err)
	}
	if err = os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(s.path), err)
	}
	tmp := s.path + ".tmp"
	if err = os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err = os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
