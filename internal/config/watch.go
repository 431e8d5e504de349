package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher re-reads the config file when it changes on disk and hands the
// fresh Config to the registered callback. Only reminder window settings
// are meant to change at runtime; channel credentials require a restart.
type Watcher struct {
	path    string
	dataDir string
	logger  *zap.Logger
	fw      *fsnotify.Watcher
	onLoad  func(*Config)
}

// NewWatcher creates a config file watcher. onLoad is invoked with every
// successfully re-parsed config.
func NewWatcher(path, dataDir string, logger *zap.Logger, onLoad func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory: editors replace files via rename, which drops
	// a watch on the file itself.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		dataDir: dataDir,
		logger:  logger,
		fw:      fw,
		onLoad:  onLoad,
	}

	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			cfg, err := Load(w.path, w.dataDir)
			if err != nil {
				w.logger.Warn("Config reload failed, keeping previous settings", zap.Error(err))
				continue
			}
			w.logger.Info("Config reloaded",
				zap.Int("tolerance_minutes", cfg.Reminders.ToleranceMinutes),
				zap.Int("timezone_offset_minutes", cfg.Reminders.TimezoneOffsetMinutes),
			)
			w.onLoad(cfg)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fw.Close()
}
