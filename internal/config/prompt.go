// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// =============================================================================
// SYSTEM PROMPT STORE
// =============================================================================

// DefaultSystemPrompt is used when no template file is configured. The
// {{current_time_local}} placeholder is substituted at request time.
const DefaultSystemPrompt = "You are a helpful assistant. " +
	"The current local time is {{current_time_local}}. " +
	"Answer clearly and concisely. When files have been shared, base your " +
	"answer on their contents."

// PromptStore serves the system prompt template and hot-reloads it when
// the backing file changes. Reads are cheap; the template is re-parsed
// only on filesystem events.
type PromptStore struct {
	mu       sync.RWMutex
	template string

	path    string
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	done    chan struct{}
}

// NewPromptStore loads the template from path. An empty path or an
// unreadable file yields the built-in default; neither is an error.
func NewPromptStore(path string, logger *zap.Logger) *PromptStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PromptStore{
		template: DefaultSystemPrompt,
		path:     path,
		logger:   logger,
		done:     make(chan struct{}),
	}
	if path != "" {
		s.reload()
	}
	return s
}

// Template returns the current system prompt template.
func (s *PromptStore) Template() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.template
}

// reload re-reads the template file. A missing or empty file falls back
// to the default rather than clearing the prompt.
func (s *PromptStore) reload() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.logger.Warn("system prompt file unreadable, using default",
			zap.String("path", s.path), zap.Error(err))
		return
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		s.logger.Warn("system prompt file empty, keeping previous template",
			zap.String("path", s.path))
		return
	}
	s.mu.Lock()
	s.template = text
	s.mu.Unlock()
	s.logger.Info("system prompt loaded", zap.String("path", s.path))
}

// =============================================================================
// HOT RELOAD
// =============================================================================

// Watch starts hot-reloading the template file. It is a no-op when no
// path was configured. Call Close to stop the watcher.
func (s *PromptStore) Watch() error {
	if s.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(s.path); err != nil {
		w.Close()
		return err
	}
	s.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					s.reload()
				}
				// Editors that replace the file atomically remove the
				// watched inode; re-add so subsequent saves are seen.
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					_ = w.Add(s.path)
					s.reload()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("prompt watcher error", zap.Error(err))
			case <-s.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher if one is running.
func (s *PromptStore) Close() error {
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
