package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/ellenlodin/Mushroom-Chatbot/mycochat"
)

// InstructionSource holds the current system instruction. It can be backed by a
// file and reloaded when that file changes.
type InstructionSource struct {
	mu     sync.RWMutex
	text   string
	path   string
	logger zerolog.Logger
}

// NewStaticInstruction returns a source that never changes.
func NewStaticInstruction(text string) *InstructionSource {
	return &InstructionSource{text: text, logger: zerolog.Nop()}
}

// LoadInstruction reads the instruction from path. An empty path yields the
// built-in prompt; an unreadable file is an error.
func LoadInstruction(path string, logger zerolog.Logger) (*InstructionSource, error) {
	src := &InstructionSource{text: mycochat.DefaultSystemPrompt, path: path, logger: logger}
	if path == "" {
		return src, nil
	}
	if err := src.reload(); err != nil {
		return nil, err
	}
	return src, nil
}

// Instruction returns the current system instruction.
func (s *InstructionSource) Instruction() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.text
}

// Set swaps the instruction.
func (s *InstructionSource) Set(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text = text
}

func (s *InstructionSource) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read system instruction: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return fmt.Errorf("system instruction %s is empty", s.path)
	}
	s.Set(text)
	return nil
}

// Watch reloads the instruction on writes to the backing file until ctx is done.
// The parent directory is watched so editors that replace the file are followed.
// A failed reload keeps the previous instruction.
func (s *InstructionSource) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", s.path, err)
	}

	target := filepath.Clean(s.path)
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.reload(); err != nil {
					s.logger.Warn().Err(err).Msg("system instruction reload failed")
					continue
				}
				s.logger.Info().Str("path", s.path).Msg("system instruction reloaded")
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn().Err(err).Msg("instruction watcher error")
			}
		}
	}()
	return nil
}
