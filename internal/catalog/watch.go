package catalog

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"controltower/internal/logging"
)

// Watch rebuilds the catalog whenever a table spec in dir changes. Events are
// debounced so a burst of editor writes triggers one rebuild. Blocks until
// ctx is done. This stays an offline concern: request-time code never sees a
// partially rebuilt catalog, it keeps serving the set it loaded.
func (b *Builder) Watch(ctx context.Context, dir string, debounce time.Duration) error {
	log := logging.For(logging.CategoryCatalog)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}

	log.Infow("watching spec directory", "dir", dir)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isSpecFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			log.Debugw("spec change detected", "file", event.Name, "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnw("watch error", "err", err)

		case <-timerC:
			timer = nil
			timerC = nil
			n, err := b.BuildFromDir(ctx, dir)
			if err != nil {
				log.Errorw("catalog rebuild failed", "err", err)
				continue
			}
			log.Infow("catalog rebuilt from spec change", "descriptors", n)
		}
	}
}

func isSpecFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
