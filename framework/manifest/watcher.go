package manifest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/km-arc/modgraph/framework/app"
	"github.com/km-arc/modgraph/framework/metrics"
	"github.com/km-arc/modgraph/framework/module"
)

// Watcher applies manifest import changes to a running application.
type Watcher struct {
	mu      sync.Mutex
	loader  *Loader
	boot    *app.Bootstrapper
	log     zerolog.Logger
	metrics *metrics.Collector

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	done    chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the watcher's logger.
func WithWatcherLogger(log zerolog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = log }
}

// WithWatcherMetrics counts reloads in m.
func WithWatcherMetrics(m *metrics.Collector) WatcherOption {
	return func(w *Watcher) { w.metrics = m }
}

// NewWatcher returns a watcher that reloads loader's manifest into boot.
func NewWatcher(loader *Loader, boot *app.Bootstrapper, opts ...WatcherOption) *Watcher {
	w := &Watcher{loader: loader, boot: boot, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Change is one import edge added or removed by a reload.
type Change struct {
	Host    string
	Import  string
	Removed bool
}

func (c Change) String() string {
	if c.Removed {
		return fmt.Sprintf("%s -/-> %s", c.Host, c.Import)
	}
	return fmt.Sprintf("%s ---> %s", c.Host, c.Import)
}

// Reload re-reads the manifest, applies import edge changes to the live
// graph and reinitializes. Failures leave the previous configuration in
// place.
func (w *Watcher) Reload(ctx context.Context) ([]Change, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	changes, err := w.reload(ctx)
	if w.metrics != nil {
		if err != nil {
			w.metrics.ManifestReloadErrors.Inc()
		} else {
			w.metrics.ManifestReloads.Inc()
		}
	}
	if err != nil {
		w.log.Error().Err(err).Msg("manifest reload failed, keeping previous configuration")
		return nil, err
	}
	w.log.Info().Int("changes", len(changes)).Msg("manifest reloaded")
	return changes, nil
}

func (w *Watcher) reload(ctx context.Context) ([]Change, error) {
	m, err := w.loader.Load()
	if err != nil {
		return nil, err
	}

	var changes []Change
	for _, spec := range m.Modules {
		desired, err := w.loader.Imports(spec)
		if err != nil {
			return nil, w.boot.Rollback(err)
		}
		for _, node := range w.boot.Registry().Nodes() {
			if node.ModuleRef != ModuleRef(spec.Name) {
				continue
			}
			cs, err := w.apply(node, desired)
			changes = append(changes, cs...)
			if err != nil {
				return nil, w.boot.Rollback(err)
			}
		}
	}
	if len(changes) == 0 {
		return nil, nil
	}
	for _, c := range changes {
		w.log.Debug().Str("change", c.String()).Msg("import edge changed")
	}
	if err := w.boot.Reinit(ctx, true); err != nil {
		return nil, err
	}
	return changes, nil
}

// apply diffs node's live imports against desired: removals first, then
// additions.
func (w *Watcher) apply(node *module.Node, desired []module.Ref) ([]Change, error) {
	want := make(map[string]module.Ref, len(desired))
	for _, ref := range desired {
		want[importKey(ref)] = ref
	}
	have := make(map[string]bool, len(node.Imports))
	var changes []Change

	for _, ref := range node.Imports {
		key := importKey(ref)
		have[key] = true
		if _, ok := want[key]; ok {
			continue
		}
		if _, err := w.boot.RemoveImport(ref, node.Ref); err != nil {
			return changes, err
		}
		changes = append(changes, Change{Host: node.Name, Import: key, Removed: true})
	}
	for _, ref := range desired {
		key := importKey(ref)
		if have[key] {
			continue
		}
		if _, err := w.boot.AddImport(ref, node.Ref); err != nil {
			return changes, err
		}
		changes = append(changes, Change{Host: node.Name, Import: key})
	}
	return changes, nil
}

// importKey identifies an import edge across reloads. Mounts with params
// are keyed by module, id and path.
func importKey(ref module.Ref) string {
	if wp, ok := ref.(*module.WithParams); ok {
		return fmt.Sprintf("%v#%s@%s", wp.Module, wp.ID, wp.Path)
	}
	return fmt.Sprint(ref)
}

// Watch reloads whenever the manifest file is written or recreated. The
// directory is watched so editors that save atomically are seen too.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.loader.Path())); err != nil {
		fw.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	w.watcher = fw
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})

	go w.watchLoop(ctx)

	w.log.Info().Str("path", w.loader.Path()).Msg("watching manifest for changes")
	return nil
}

// Stop stops watching and waits for the loop to exit.
func (w *Watcher) Stop() {
	if w.watcher == nil {
		return
	}
	close(w.stopCh)
	w.watcher.Close()
	<-w.done
	w.watcher = nil
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer close(w.done)
	filename := filepath.Base(w.loader.Path())

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.log.Debug().
				Str("event", event.Op.String()).
				Str("file", event.Name).
				Msg("manifest changed")
			// Errors are logged and counted by Reload.
			_, _ = w.Reload(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("manifest watcher error")

		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}
