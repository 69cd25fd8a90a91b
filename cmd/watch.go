package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/docker/go-units"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/photo3d/photo3d/handler"
	"github.com/photo3d/photo3d/handler/trace"
)

func newWatchCmd(o *rootOptions) *cobra.Command {
	var workers int
	// Quiet period before a changed file is converted.
	settle := handler.Duration(500 * time.Millisecond)
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Convert every photo dropped into a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if workers < 1 {
				return fmt.Errorf("--workers must be at least 1, got %d", workers)
			}
			dir := args[0]
			info, err := os.Stat(dir)
			if err != nil {
				return fmt.Errorf("watch dir: %w", err)
			}
			if !info.IsDir() {
				return fmt.Errorf("watch dir: %s is not a directory", dir)
			}

			tr := trace.New()
			factory, cfg, err := o.prepare(cmd, tr)
			if err != nil {
				return err
			}
			w := newDirWatcher(factory, cfg.Handler.Output, workers, time.Duration(settle))

			logrus.Infof("watching %s for photos (workers=%d)", dir, workers)
			err = w.run(cmd.Context(), dir)
			logSummary(trace.Summarize(tr))
			return err
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 1, "Number of photos converted concurrently")
	cmd.Flags().Var(&settle, "settle", "Wait this long after the last write before converting a photo")
	return cmd
}

// dirWatcher converts photos as they appear in a directory.
type dirWatcher struct {
	factory handler.Factory
	output  handler.OutputConfig
	workers int
	settle  time.Duration

	queue chan string   // settled paths waiting for a worker
	stop  chan struct{} // closed when run returns

	mu      sync.Mutex
	pending map[string]func(func()) // per-path debouncers
	closed  bool
}

func newDirWatcher(factory handler.Factory, output handler.OutputConfig, workers int, settle time.Duration) *dirWatcher {
	return &dirWatcher{
		factory: factory,
		output:  output,
		workers: workers,
		settle:  settle,
		queue:   make(chan string),
		stop:    make(chan struct{}),
		pending: make(map[string]func(func())),
	}
}

// isCandidate reports whether path is a photo the user dropped in, as opposed
// to a temp file or an output this tool wrote.
func (w *dirWatcher) isCandidate(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || !handler.HasPhotoExtension(base) {
		return false
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if w.output.Suffix != "" && strings.HasSuffix(stem, w.output.Suffix) {
		return false
	}
	return true
}

// run blocks until ctx is done, then waits for in-flight conversions to stop.
// A dirWatcher runs at most once.
func (w *dirWatcher) run(ctx context.Context, dir string) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-w.stop:
					return nil
				case path := <-w.queue:
					w.convert(gctx, path)
				}
			}
		})
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case event, ok := <-fw.Events:
			if !ok {
				break loop
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if w.isCandidate(event.Name) {
				w.schedule(event.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				break loop
			}
			logrus.Warnf("watch %s: %v", dir, err)
		}
	}

	w.mu.Lock()
	w.closed = true
	for _, d := range w.pending {
		d(func() {})
	}
	w.mu.Unlock()
	close(w.stop)
	return g.Wait()
}

// schedule converts path once it has been quiet for the settle period.
func (w *dirWatcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	d, ok := w.pending[path]
	if !ok {
		d = debounce.New(w.settle)
		w.pending[path] = d
	}
	d(func() { w.submit(path) })
}

// submit hands a settled path to the worker pool. It runs on the debounce
// timer goroutine and must not hold w.mu while waiting for a free worker.
func (w *dirWatcher) submit(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}
	select {
	case w.queue <- path:
	case <-w.stop:
	}
}

// convert runs one photo through the handler. Failures are logged, not returned,
// so one bad photo does not stop the watcher.
func (w *dirWatcher) convert(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	h, err := w.factory(path)
	if err != nil {
		logrus.WithField("photo", path).Errorf("create handler: %v", err)
		return
	}
	if err := h.Make3DImage(ctx); err != nil {
		logrus.WithField("photo", path).Errorf("conversion failed: %v", err)
	}
}

// logSummary reports the aggregate outcome of a watch session.
func logSummary(s *trace.Summary) {
	if s.Total == 0 {
		logrus.Info("no photos converted")
		return
	}
	logrus.Infof("converted %d of %d photos (%d failed), %s written, mean %s, max %s",
		s.Succeeded, s.Total, s.Failed, units.HumanSize(float64(s.TotalBytes)),
		s.MeanDuration.Round(time.Millisecond), s.MaxDuration.Round(time.Millisecond))
	for name, n := range s.BackendDistribution {
		logrus.Debugf("backend %s: %d conversions", name, n)
	}
}
