// Package prompts loads named prompt templates from a YAML file and renders
// them with {placeholder} substitution. The store can watch its source file
// and hot-reload edits without a restart.
package prompts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Store is a read-only name → template lookup for the rest of the system.
type Store struct {
	path   string
	logger *slog.Logger

	mu        sync.RWMutex
	templates map[string]string
}

// Load reads the template file and returns a Store.
func Load(path string, logger *slog.Logger) (*Store, error) {
	s := &Store{path: path, logger: logger}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) reload() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read prompts file: %w", err)
	}

	templates := map[string]string{}
	if err := yaml.Unmarshal(raw, &templates); err != nil {
		return fmt.Errorf("parse prompts file: %w", err)
	}

	s.mu.Lock()
	s.templates = templates
	s.mu.Unlock()
	return nil
}

// Names returns the known template names.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	return names
}

// Render expands the named template, replacing each {key} with its value
// from vars. Unknown template names are an error; placeholders without a
// matching var are left untouched.
func (s *Store) Render(name string, vars map[string]string) (string, error) {
	s.mu.RLock()
	tmpl, ok := s.templates[name]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown prompt template %q", name)
	}

	out := tmpl
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{"+key+"}", value)
	}
	return out, nil
}

// Watch reloads the store whenever the source file changes, until ctx is
// done. Reload failures keep the previous templates and log a warning.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	// Watch the directory, not the file: editors replace files on save and
	// the inode-level watch would go stale.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch prompts dir: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(s.path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := s.reload(); err != nil {
					s.logger.Warn("prompt reload failed", "error", err)
					continue
				}
				s.logger.Info("prompts reloaded", "path", s.path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("prompt watcher error", "error", err)
			}
		}
	}()
	return nil
}
