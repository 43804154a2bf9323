package config

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/junctionhq/junction/pkg/log"
)

// Watch re-reads path whenever it changes and applies the log level from
// the new file. Only the log level is hot-reloaded; everything else
// requires a restart. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	logger := log.WithComponent("config")

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				logger.Warn().Err(err).Msg("ignoring config reload")
				continue
			}
			log.SetLevel(log.Level(cfg.Log.Level))
			logger.Info().Str("level", cfg.Log.Level).Msg("log level reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("config watcher error")
		case <-ctx.Done():
			return nil
		}
	}
}
