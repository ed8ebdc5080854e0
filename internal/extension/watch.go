package extension

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/burrowai/burrow/internal/apierr"
)

// Watch invalidates the cached catalogs when either extension root changes
// on disk, so edits made outside the API (a mounted volume, a shell) show up
// without restarting the server. It blocks until ctx is cancelled.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return apierr.Wrap(apierr.KindBackendUnavailable, err, "create extension watcher")
	}
	defer watcher.Close()

	for _, dir := range []string{s.skillsDir, s.commandsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return apierr.Wrap(apierr.KindBackendUnavailable, err, "create extension dir")
		}
		if err := watcher.Add(dir); err != nil {
			return apierr.Wrap(apierr.KindBackendUnavailable, err, "watch %s", dir)
		}
	}

	s.log.Debug().Str("skills", s.skillsDir).Str("commands", s.commandsDir).
		Msg("watching extension dirs")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue // staging files
			}
			if strings.HasPrefix(event.Name, s.commandsDir) {
				s.invalidateCommands()
			} else {
				s.invalidateSkills()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn().Err(err).Msg("extension watcher error")
		}
	}
}
