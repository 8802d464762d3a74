package inference

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"studentperf/ml"
	"studentperf/monitoring"
)

const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads the artifact when its file changes and swaps it into the
// service. A failed reload keeps the current model.
type Watcher struct {
	service  *Service
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
}

// NewWatcher starts watching the artifact's directory. Writes are picked up
// once Run is called.
func NewWatcher(service *Service, path string, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(err, "resolve artifact path")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create watcher")
	}
	// the directory is watched because the artifact is replaced by rename
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, errors.Wrapf(err, "watch %s", filepath.Dir(abs))
	}
	return &Watcher{
		service:  service,
		path:     abs,
		debounce: debounce,
		watcher:  fw,
		logger:   service.logger.With(zap.String("artifact", abs)),
	}, nil
}

// Run blocks until ctx is done, then releases the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("artifact watcher error", zap.Error(err))
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	model, err := ml.LoadModel(w.path)
	if err == nil {
		err = w.service.Swap(model)
	}
	if err != nil {
		w.service.metrics.ObserveReload(monitoring.ReloadOutcomeFailed)
		w.logger.Error("artifact reload failed, keeping current model", zap.Error(err))
		return
	}
	w.service.metrics.ObserveReload(monitoring.ReloadOutcomeOK)
	w.logger.Info("artifact reloaded",
		zap.Strings("classes", model.Classes()),
		zap.Strings("categories", model.Transform().Categories()),
	)
}
