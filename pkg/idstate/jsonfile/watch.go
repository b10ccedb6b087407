package jsonfile

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/marmos91/rfidgate/internal/logger"
	"github.com/marmos91/rfidgate/pkg/idstate"
)

// Watch calls onChange with the decoded snapshot each time the file is
// written or replaced, until ctx is cancelled. The parent directory is
// watched so editors that save via rename are seen too.
//
// Our own Saves are reported as well; callers merge, so that is harmless.
func (s *Store) Watch(ctx context.Context, onChange func(idstate.State)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}

	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != s.path || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				st, err := s.Load(ctx)
				if err != nil {
					logger.Warn("Ignoring unreadable state file change", logger.KeyPath, s.path, logger.KeyError, err)
					continue
				}
				onChange(st)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("State file watcher error", logger.KeyPath, s.path, logger.KeyError, err)
			}
		}
	}()
	return nil
}
