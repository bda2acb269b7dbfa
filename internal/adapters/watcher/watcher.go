// Package watcher notifies about raw product files dropped into directories
// by other processes.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event is a settled change to one product file.
type Event struct {
	Path      string
	Operation Operation
}

// Operation is what happened to a product file.
type Operation int

const (
	OpCreate Operation = iota // new file, or one moved into a drop directory
	OpModify
	OpDelete // removed, or moved away
)

func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Handler post-processes one settled product file.
type Handler func(ctx context.Context, event Event) error

// pending is a product file that has not been quiet for long enough.
type pending struct {
	last time.Time
	op   Operation
}

// merge folds a later operation on the same file into p.
func (p *pending) merge(op Operation, at time.Time) {
	p.last = at
	switch {
	case p.op == OpDelete && op == OpCreate:
		// Replaced by rename: the file is there again.
		p.op = OpCreate
	case op == OpDelete:
		p.op = OpDelete
	case p.op == OpCreate:
		// Writes after a create still describe a new file.
	default:
		p.op = op
	}
}

// Watcher watches drop directories and reports settled product files. A file
// that is still being written produces a stream of writes; it is reported
// once, after Debounce has passed without a further event.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	handler   Handler
	match     func(path string) bool
	logger    *slog.Logger
	dirs      []string
	debounce  time.Duration
	now       func() time.Time

	mu      sync.Mutex
	pending map[string]*pending
	wg      sync.WaitGroup
}

// Config holds watcher configuration.
type Config struct {
	Paths    []string
	Debounce time.Duration
	// Match selects the files to report. Nil selects IsRawProduct.
	Match func(path string) bool
}

// New creates a watcher over cfg.Paths. Nothing is watched before Start.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if cfg.Debounce == 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if cfg.Match == nil {
		cfg.Match = IsRawProduct
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		handler:   handler,
		match:     cfg.Match,
		logger:    logger,
		dirs:      cfg.Paths,
		debounce:  cfg.Debounce,
		now:       time.Now,
		pending:   make(map[string]*pending),
	}, nil
}

// Start watches the drop directories until ctx ends. A directory that cannot
// be watched is logged and skipped.
func (w *Watcher) Start(ctx context.Context) error {
	for _, dir := range w.dirs {
		if err := w.Add(dir); err != nil {
			w.logger.Warn("failed to watch drop directory", "path", dir, "error", err)
		}
	}

	go w.receive(ctx)
	go w.settleLoop(ctx)

	return nil
}

// Stop stops the watcher and waits for running handlers.
func (w *Watcher) Stop() error {
	err := w.fsWatcher.Close()
	w.wg.Wait()
	return err
}

// Add watches one more drop directory.
func (w *Watcher) Add(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if err := w.fsWatcher.Add(abs); err != nil {
		return err
	}
	w.logger.Info("watching drop directory", "path", abs)
	return nil
}

func (w *Watcher) receive(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.note(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// note starts or extends the quiet period of a product file.
func (w *Watcher) note(event fsnotify.Event) {
	if !w.match(event.Name) {
		return
	}
	op := operationOf(event.Op)
	w.logger.Debug("product file changed", "path", event.Name, "op", op.String())

	at := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pending[event.Name]; ok {
		p.merge(op, at)
		return
	}
	w.pending[event.Name] = &pending{last: at, op: op}
}

func (w *Watcher) settleLoop(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.dispatch(ctx, w.settled(w.now()))
		}
	}
}

// settled removes and returns the files quiet for at least the debounce
// interval.
func (w *Watcher) settled(now time.Time) []Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	var events []Event
	for path, p := range w.pending {
		if now.Sub(p.last) < w.debounce {
			continue
		}
		delete(w.pending, path)
		events = append(events, Event{Path: path, Operation: p.op})
	}
	return events
}

// dispatch runs the handler for each event without holding the lock.
func (w *Watcher) dispatch(ctx context.Context, events []Event) {
	for _, e := range events {
		w.logger.Info("product file settled", "path", e.Path, "operation", e.Operation.String())

		w.wg.Add(1)
		go func(e Event) {
			defer w.wg.Done()
			if err := w.handler(ctx, e); err != nil {
				w.logger.Error("post-processing failed", "path", e.Path, "operation", e.Operation.String(), "error", err)
			}
		}(e)
	}
}

// operationOf maps an fsnotify event. A rename is reported on the old name
// only, so it means the file left.
func operationOf(op fsnotify.Op) Operation {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return OpDelete
	case op.Has(fsnotify.Create):
		return OpCreate
	default:
		return OpModify
	}
}

// IsRawProduct reports whether path looks like a raw product worth
// post-processing: compressed files, daily IONEX maps and DSD quarter files.
// Temporary files of in-progress writes are ignored.
func IsRawProduct(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") {
		return false
	}
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(name, ".Z"), strings.HasSuffix(lower, ".gz"):
		return true
	case strings.HasSuffix(lower, "_dsd.txt"):
		return true
	}
	// IONEX: *.YYi
	ext := filepath.Ext(lower)
	return len(ext) == 4 && ext[3] == 'i' && isDigit(ext[1]) && isDigit(ext[2])
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
