package packetguard

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/oarkflow/log"
)

// ReloadDetectorConfig loads and validates the detector overlays under dir
// and swaps the rebuilt detector set into the recognizer. On any error the
// recognizer keeps its current detectors.
func ReloadDetectorConfig(dir string, recognizer *AttackRecognizer) error {
	cfg, err := LoadDetectorConfig(dir)
	if err != nil {
		return err
	}
	if err := NewDefaultConfigValidator().Validate(&cfg); err != nil {
		return err
	}
	recognizer.SetDetectors(NewDetectors(cfg))
	return nil
}

// ConfigWatcher watches the detector config directory and reloads overlays
// when a JSON file changes.
type ConfigWatcher struct {
	dir        string
	recognizer *AttackRecognizer
	logger     *log.Logger
	watcher    *fsnotify.Watcher
	stopOnce   sync.Once
	done       chan struct{}
}

func NewConfigWatcher(dir string, recognizer *AttackRecognizer, logger *log.Logger) (*ConfigWatcher, error) {
	if logger == nil {
		logger = defaultLogger()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &ConfigWatcher{
		dir:        dir,
		recognizer: recognizer,
		logger:     logger,
		watcher:    fsw,
		done:       make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *ConfigWatcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Info().
				Str("file", filepath.Base(event.Name)).
				Str("op", event.Op.String()).
				Msg("detector config changed, reloading")
			if err := ReloadDetectorConfig(w.dir, w.recognizer); err != nil {
				w.logger.Error().Err(err).Msg("detector config reload rejected, keeping previous detectors")
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("config watcher error")
		}
	}
}

func (w *ConfigWatcher) relevant(event fsnotify.Event) bool {
	if !strings.EqualFold(filepath.Ext(event.Name), ".json") {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0
}

// Stop closes the watcher and waits for the reload loop to drain.
func (w *ConfigWatcher) Stop() {
	w.stopOnce.Do(func() {
		w.watcher.Close()
		<-w.done
	})
}
