// Package scheduler runs dependency graph nodes across a worker pool.
// Nodes become ready when every prerequisite finished; a failure skips the
// failed node's transitive dependents while unrelated subgraphs keep
// building.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"suitebuild/internal/ctxlog"
	"suitebuild/internal/fingerprint"
	"suitebuild/internal/graph"
)

// UnitBuilder is what the scheduler needs from the build layer.
type UnitBuilder interface {
	// InputHash fingerprints a node's own inputs; the scheduler folds in
	// dependency fingerprints itself.
	InputHash(ctx context.Context, node *graph.Node) (string, error)
	// OutputsExist reports whether the node's outputs are present on disk.
	OutputsExist(node *graph.Node) bool
	// Register publishes the node's outputs for downstream consumers.
	Register(node *graph.Node) error
	Build(ctx context.Context, node *graph.Node) error
}

// Status is the terminal state of one scheduled node.
type Status int

const (
	StatusPending Status = iota
	StatusClean
	StatusBuilt
	StatusFailed
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusClean:
		return "clean"
	case StatusBuilt:
		return "built"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "pending"
	}
}

// Failure pairs a failed unit with its error.
type Failure struct {
	Unit string
	Err  error
}

// Summary aggregates one scheduler run. Interrupted counts nodes never
// dispatched because the run was cancelled.
type Summary struct {
	Built       int
	Clean       int
	Skipped     int
	Interrupted int
	Failures    []Failure
}

// Failed reports whether any unit failed.
func (s *Summary) Failed() bool { return len(s.Failures) > 0 }

func (s *Summary) String() string {
	return fmt.Sprintf("built %d, clean %d, failed %d, skipped %d, interrupted %d",
		s.Built, s.Clean, len(s.Failures), s.Skipped, s.Interrupted)
}

// Scheduler drives one build over a graph. Store may be nil, in which
// case every node is treated as stale.
type Scheduler struct {
	Builder UnitBuilder
	Store   *fingerprint.Store
	// Force rebuilds nodes even when their fingerprints match.
	Force bool
	// Jobs is the worker count; values below one mean one worker.
	Jobs int
}

type nodeState struct {
	node  *graph.Node
	unmet atomic.Int32

	skipOnce sync.Once
	skipped  atomic.Bool
	skipUnit string

	mu          sync.Mutex
	status      Status
	err         error
	fingerprint string
}

func (st *nodeState) markSkipped(cause string) {
	st.skipOnce.Do(func() {
		st.skipped.Store(true)
		st.skipUnit = cause
	})
}

func (st *nodeState) finish(status Status, fp string, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.status = status
	st.fingerprint = fp
	st.err = err
}

type run struct {
	sched  *Scheduler
	graph  *graph.Graph
	states map[string]*nodeState
	ready  chan *nodeState
	done   atomic.Int32
	total  int32
}

// Run builds every node of the graph and returns the summary. The error
// is non-nil only for scheduling-level problems (cancellation included);
// per-unit build failures are reported through the summary.
func (s *Scheduler) Run(ctx context.Context, g *graph.Graph) (*Summary, error) {
	logger := ctxlog.FromContext(ctx)

	jobs := s.Jobs
	if jobs < 1 {
		jobs = 1
	}
	r := &run{
		sched:  s,
		graph:  g,
		states: make(map[string]*nodeState, g.Len()),
		ready:  make(chan *nodeState, g.Len()),
		total:  int32(g.Len()),
	}
	for _, n := range g.Nodes() {
		st := &nodeState{node: n}
		st.unmet.Store(int32(len(n.Dependencies())))
		r.states[n.ID()] = st
	}
	for _, n := range g.Nodes() {
		st := r.states[n.ID()]
		if st.unmet.Load() == 0 {
			r.ready <- st
		}
	}
	if r.total == 0 {
		return &Summary{}, nil
	}
	logger.Info("Scheduling build", "units", r.total, "workers", jobs)

	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.worker(ctx)
		}()
	}
	wg.Wait()

	summary := r.summarize()
	logger.Info("Build finished", "summary", summary.String())
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("build interrupted: %w", err)
	}
	return summary, nil
}

// worker pops ready nodes until the queue closes or the run is cancelled.
// Cancellation stops dispatching; the node being processed is allowed to
// finish.
func (r *run) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-r.ready:
			if !ok {
				return
			}
			r.process(ctx, st)
		}
	}
}

func (r *run) process(ctx context.Context, st *nodeState) {
	logger := ctxlog.FromContext(ctx)
	id := st.node.ID()

	if st.skipped.Load() {
		logger.Warn("Skipping unit, prerequisite failed", "unit", id, "prerequisite", st.skipUnit)
		st.finish(StatusSkipped, "", fmt.Errorf("prerequisite %q failed", st.skipUnit))
		r.complete(st)
		return
	}

	fp, err := r.fingerprint(ctx, st)
	if err != nil {
		logger.Error("Fingerprinting failed", "unit", id, "error", err)
		st.finish(StatusFailed, "", err)
		r.complete(st)
		return
	}

	if !r.sched.Force && r.isClean(id, fp, st.node) {
		if err := r.sched.Builder.Register(st.node); err != nil {
			st.finish(StatusFailed, fp, err)
			r.complete(st)
			return
		}
		logger.Debug("Unit is clean", "unit", id)
		st.finish(StatusClean, fp, nil)
		r.complete(st)
		return
	}

	// In-flight work survives cancellation; only dispatch stops.
	if err := r.sched.Builder.Build(context.WithoutCancel(ctx), st.node); err != nil {
		logger.Error("Unit failed", "unit", id, "error", err)
		st.finish(StatusFailed, fp, err)
		r.complete(st)
		return
	}
	if r.sched.Store != nil {
		if err := r.sched.Store.Put(id, fp); err != nil {
			logger.Warn("Recording fingerprint failed", "unit", id, "error", err)
		}
	}
	st.finish(StatusBuilt, fp, nil)
	r.complete(st)
}

// fingerprint combines the node's own input hash with the fingerprints of
// its prerequisites, which have all finished by the time the node runs.
func (r *run) fingerprint(ctx context.Context, st *nodeState) (string, error) {
	own, err := r.sched.Builder.InputHash(ctx, st.node)
	if err != nil {
		return "", err
	}
	var h fingerprint.Hasher
	h.Add("inputs", own)
	for _, dep := range st.node.Dependencies() {
		ds := r.states[dep]
		ds.mu.Lock()
		h.Add("dep:"+dep, ds.fingerprint)
		ds.mu.Unlock()
	}
	return h.Sum(), nil
}

func (r *run) isClean(id, fp string, node *graph.Node) bool {
	if r.sched.Store == nil {
		return false
	}
	stored, err := r.sched.Store.Get(id)
	if err != nil || stored == "" || stored != fp {
		return false
	}
	return r.sched.Builder.OutputsExist(node)
}

// complete propagates the node's outcome: failed and skipped nodes poison
// their dependents, and every dependent with no unmet prerequisites left
// becomes ready.
func (r *run) complete(st *nodeState) {
	st.mu.Lock()
	status := st.status
	st.mu.Unlock()

	for _, dep := range st.node.Dependents() {
		ds := r.states[dep]
		if status == StatusFailed || status == StatusSkipped {
			cause := st.node.ID()
			if status == StatusSkipped {
				cause = st.skipUnit
			}
			ds.markSkipped(cause)
		}
		if ds.unmet.Add(-1) == 0 {
			r.ready <- ds
		}
	}
	if r.done.Add(1) == r.total {
		close(r.ready)
	}
}

func (r *run) summarize() *Summary {
	s := &Summary{}
	for _, n := range r.graph.Nodes() {
		st := r.states[n.ID()]
		st.mu.Lock()
		switch st.status {
		case StatusBuilt:
			s.Built++
		case StatusClean:
			s.Clean++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failures = append(s.Failures, Failure{Unit: n.ID(), Err: st.err})
		default:
			s.Interrupted++
		}
		st.mu.Unlock()
	}
	return s
}
