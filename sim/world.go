package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/lamesim/lame/sim/trace"
)

// World distributes entities across a fixed pool of shards, advances them in
// synchronized frames, and hands each sealed frame to a single consumer.
//
// Goroutine topology:
//   - N shard loops (one per Config.Shards), started by New, stopped by Close
//   - callers of AddEntity/AddEntities/Shared: any goroutine, including entity code
//   - one consumer calling NextFrame or Draws
//
// Thread-safety: all exported methods are safe for concurrent use.
type World[S, T, O any] struct {
	cfg       Config
	shared    S
	construct Constructor[S, T, O]
	balancer  *Balancer[T]
	shards    []*shard[S, T, O]

	frameMu sync.RWMutex // guards current; write-locked only for the swap
	current *Frame[O]
	out     chan *Frame[O]
	seq     atomic.Uint64

	stopping atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
	group    errgroup.Group

	trace *trace.SimulationTrace
}

// New validates cfg, routes the initial templates and starts the shard loops.
// shared is handed read-only to every constructor and entity for the
// lifetime of the world.
func New[S, T, O any](cfg Config, shared S, construct Constructor[S, T, O], initial []T) (*World[S, T, O], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if construct == nil {
		return nil, fmt.Errorf("%w: constructor is nil", ErrInvalidConfig)
	}

	var st *trace.SimulationTrace
	if level := trace.TraceLevel(cfg.TraceLevel); level.Enabled() {
		st = trace.NewSimulationTrace(trace.TraceConfig{Level: level})
	}

	w := &World[S, T, O]{
		cfg:       cfg,
		shared:    shared,
		construct: construct,
		balancer:  NewBalancer[T](cfg.Shards, st),
		current:   NewFrame[O](cfg.Shards),
		out:       make(chan *Frame[O], cfg.OutboundCapacity),
		done:      make(chan struct{}),
		trace:     st,
	}
	if _, err := w.balancer.RouteMany(initial); err != nil {
		return nil, fmt.Errorf("routing initial templates: %w", err)
	}

	w.shards = make([]*shard[S, T, O], cfg.Shards)
	for i := range w.shards {
		w.shards[i] = newShard(w, i)
	}
	for _, s := range w.shards {
		w.group.Go(s.run)
	}
	logrus.Debugf("world started: %d shards, %d initial templates, outbound capacity %d",
		cfg.Shards, len(initial), cfg.OutboundCapacity)
	return w, nil
}

// AddEntity routes a template to the least-loaded live shard. The entity is
// constructed at the start of that shard's next tick, so callers must not
// assume it exists until a later frame reflects its output.
//
// Returns ErrClosed once Close has begun. A nil error means the template was
// accepted before shutdown; Close discards accepted templates that no shard
// has drained yet.
func (w *World[S, T, O]) AddEntity(t T) error {
	_, err := w.balancer.Route(t)
	return err
}

// AddEntities routes a batch of templates under one balancer lock and
// returns how many were accepted. On error, ts[:n] are routed and ts[n:]
// are not, so a retry must resubmit only the tail.
func (w *World[S, T, O]) AddEntities(ts []T) (int, error) {
	return w.balancer.RouteMany(ts)
}

// AddEntityTo routes a template to a specific shard, bypassing the
// least-loaded choice.
func (w *World[S, T, O]) AddEntityTo(shard int, t T) error {
	return w.balancer.RouteTo(shard, t)
}

// Shared returns the immutable shared resource.
func (w *World[S, T, O]) Shared() S {
	return w.shared
}

// Shards returns the configured shard count.
func (w *World[S, T, O]) Shards() int {
	return w.cfg.Shards
}

// Counts returns a snapshot of the balancer's per-shard count table.
func (w *World[S, T, O]) Counts() []int {
	return w.balancer.Counts()
}

// ShardStates returns the current loop state of every shard.
func (w *World[S, T, O]) ShardStates() []ShardState {
	states := make([]ShardState, len(w.shards))
	for i, s := range w.shards {
		states[i] = s.State()
	}
	return states
}

// Trace returns the recorded trace, or nil when tracing is off.
func (w *World[S, T, O]) Trace() *trace.SimulationTrace {
	return w.trace
}

// NextFrame blocks until the next sealed frame is available.
// Returns ErrClosed once the world is closed.
func (w *World[S, T, O]) NextFrame(ctx context.Context) (*Frame[O], error) {
	if w.stopping.Load() {
		return nil, ErrClosed
	}
	select {
	case f := <-w.out:
		return f, nil
	case <-w.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Draws blocks for the next sealed frame and returns its outputs ordered by
// ascending layer.
func (w *World[S, T, O]) Draws(ctx context.Context) ([]O, error) {
	f, err := w.NextFrame(ctx)
	if err != nil {
		return nil, err
	}
	return f.Collapse(), nil
}

// Close signals shutdown and waits for every shard loop to exit. A tick in
// progress finishes before its shard stops. Close returns the first
// *ShardFailure, if any shard died. Safe to call more than once, but never
// from entity code: it waits for the calling shard.
func (w *World[S, T, O]) Close() error {
	w.shutdown()
	return w.group.Wait()
}

func (w *World[S, T, O]) shutdown() {
	w.stopOnce.Do(func() {
		w.balancer.stop()
		w.stopping.Store(true)
		close(w.done)
	})
}

// handOff installs a fresh current frame, wakes the shards waiting on f and
// pushes f to the consumer. Pushing blocks while the outbound buffer is full.
func (w *World[S, T, O]) handOff(f *Frame[O]) error {
	w.frameMu.Lock()
	w.current = NewFrame[O](w.cfg.Shards)
	w.frameMu.Unlock()

	// Sequence and trace record precede release so records stay in seal order.
	f.seq = w.seq.Add(1)
	w.recordFrame(f)
	f.release()
	logrus.Debugf("frame %d sealed", f.Seq())

	if w.stopping.Load() {
		return w.consumerGone(f)
	}
	select {
	case w.out <- f:
		return nil
	case <-w.done:
		return w.consumerGone(f)
	}
}

func (w *World[S, T, O]) consumerGone(f *Frame[O]) error {
	logrus.Warnf("dropping frame %d: %v, stopping all shards", f.Seq(), ErrConsumerGone)
	w.shutdown()
	return ErrConsumerGone
}

func (w *World[S, T, O]) recordFrame(f *Frame[O]) {
	if w.trace == nil || !w.trace.Config.Level.TracesFrames() {
		return
	}
	capsules := f.Capsules()
	layers := make(map[uint8]int)
	for _, c := range capsules {
		layers[c.Layer]++
	}
	w.trace.RecordFrame(trace.FrameRecord{
		Seq:      f.Seq(),
		Capsules: len(capsules),
		PerShard: f.ShardCapsules(),
		Layers:   layers,
	})
}

// IsShardFailure reports whether err came from a shard killed by a panic.
func IsShardFailure(err error) bool {
	var sf *ShardFailure
	return errors.As(err, &sf)
}
