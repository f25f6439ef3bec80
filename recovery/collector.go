package recovery

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Job is one unit of cleanup work.
type Job interface {
	// Run performs the cleanup. Errors are also retained by the job owner.
	Run(ctx context.Context) error
	// Description names the job in logs, e.g. the backing file path.
	Description() string
}

// Collector receives cleanup jobs at open time.
type Collector interface {
	Add(job Job)
}

// Immediate returns a collector that runs each job inside Add.
func Immediate() Collector { return immediate{} }

type immediate struct{}

func (immediate) Add(job Job) { _ = job.Run(context.Background()) }

// Ignore returns a collector that never runs jobs.
func Ignore() Collector { return ignore{} }

type ignore struct{}

func (ignore) Add(Job) {}

// Group defers jobs until Start and then runs them concurrently.
type Group struct {
	limit  int
	logger *slog.Logger

	mu      sync.Mutex
	pending []Job
	eg      *errgroup.Group
	ctx     context.Context
}

// NewGroup creates a Group running at most limit jobs at once.
// limit <= 0 means one at a time.
func NewGroup(limit int, logger *slog.Logger) *Group {
	if limit <= 0 {
		limit = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Group{limit: limit, logger: logger}
}

// Add queues job, or schedules it right away once the group was started.
func (g *Group) Add(job Job) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.eg == nil {
		g.pending = append(g.pending, job)
		return
	}
	g.schedule(job)
}

// Start runs queued jobs and every job added later with ctx. Calling Start
// twice has no further effect.
func (g *Group) Start(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.eg != nil {
		return
	}
	// A failed job must not cancel the others; each index owns its cleanup.
	g.eg, g.ctx = new(errgroup.Group), ctx
	g.eg.SetLimit(g.limit)
	for _, job := range g.pending {
		g.schedule(job)
	}
	g.pending = nil
}

func (g *Group) schedule(job Job) {
	g.eg.Go(func() error {
		g.logger.Debug("recovery cleanup started", "job", job.Description())
		if err := job.Run(g.ctx); err != nil {
			g.logger.Error("recovery cleanup failed", "job", job.Description(), "error", err)
			return err
		}
		g.logger.Debug("recovery cleanup completed", "job", job.Description())
		return nil
	})
}

// Pending returns the number of jobs waiting for Start.
func (g *Group) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// Wait blocks until every scheduled job finished and returns the first error.
// Wait before Start returns nil.
func (g *Group) Wait() error {
	g.mu.Lock()
	eg := g.eg
	g.mu.Unlock()
	if eg == nil {
		return nil
	}
	return eg.Wait()
}
