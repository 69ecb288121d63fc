// Package refresher keeps the dashboard board current by periodically
// merging every source namespace's login log.
package refresher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"loginrelay/internal/dedupe"
	"loginrelay/internal/logging"
	"loginrelay/internal/model"
)

type Source interface {
	Namespace() string
	ReadAll(ctx context.Context) []model.LoginEvent
}

type Sink interface {
	Publish(events []model.LoginEvent)
}

type Options struct {
	Interval    time.Duration
	ReadTimeout time.Duration
}

type Refresher struct {
	sources []Source
	sink    Sink
	opts    Options
	logger  *slog.Logger

	running atomic.Bool

	mu       sync.Mutex
	cron     *cron.Cron
	lastRun  time.Time
	lastLen  int
	lastSeen []model.LoginEvent
}

func New(sources []Source, sink Sink, opts Options, logger *slog.Logger) *Refresher {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Refresher{sources: sources, sink: sink, opts: opts, logger: logger}
}

// RefreshNow reads all sources, merges them and publishes the result. A
// source that fails or exceeds the read timeout contributes nothing. Runs
// never overlap: a call made while another is in progress returns the last
// published result without reading.
func (r *Refresher) RefreshNow(ctx context.Context) []model.LoginEvent {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Debug("refresh already running, skipped")
		return r.last()
	}
	defer r.running.Store(false)

	lists := make([][]model.LoginEvent, len(r.sources))
	var wg sync.WaitGroup
	for i, src := range r.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			lists[i] = r.read(ctx, src)
		}(i, src)
	}
	wg.Wait()

	merged := dedupe.Merge(lists...)
	if r.sink != nil {
		r.sink.Publish(merged)
	}
	r.mu.Lock()
	r.lastRun = time.Now().UTC()
	r.lastLen = len(merged)
	r.lastSeen = merged
	r.mu.Unlock()
	return merged
}

func (r *Refresher) last() []model.LoginEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.LoginEvent, len(r.lastSeen))
	copy(out, r.lastSeen)
	return out
}

func (r *Refresher) read(ctx context.Context, src Source) []model.LoginEvent {
	ctx, cancel := context.WithTimeout(ctx, r.opts.ReadTimeout)
	defer cancel()
	done := make(chan []model.LoginEvent, 1)
	go func() {
		done <- src.ReadAll(ctx)
	}()
	select {
	case events := <-done:
		return events
	case <-ctx.Done():
		r.logger.Warn("source read timed out", "namespace", src.Namespace(), "timeout", r.opts.ReadTimeout)
		return nil
	}
}

// Start schedules the periodic refresh. Runs never overlap; a tick that
// arrives while the previous run is still busy is skipped.
func (r *Refresher) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return errors.New("refresher already started")
	}
	cl := logging.CronLogger{Logger: r.logger}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", r.opts.Interval), func() {
		r.RefreshNow(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule refresh: %w", err)
	}
	c.Start()
	r.cron = c
	r.logger.Info("refresher started", "interval", r.opts.Interval, "sources", len(r.sources))
	return nil
}

// Stop cancels the schedule and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	r.logger.Info("refresher stopped")
}

type Status struct {
	Running  bool      `json:"running"`
	Interval string    `json:"interval"`
	LastRun  time.Time `json:"lastRun"`
	LastLen  int       `json:"lastCount"`
}

func (r *Refresher) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{Running: r.cron != nil, Interval: r.opts.Interval.String(), LastRun: r.lastRun, LastLen: r.lastLen}
}
