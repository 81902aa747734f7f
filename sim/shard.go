package sim

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// ShardState is the position of a shard in its tick loop.
type ShardState int32

const (
	ShardIdle ShardState = iota
	ShardDraining
	ShardTicking
	ShardReporting
	ShardStopped
)

// String returns the lowercase state name used in logs.
func (s ShardState) String() string {
	switch s {
	case ShardIdle:
		return "idle"
	case ShardDraining:
		return "draining"
	case ShardTicking:
		return "ticking"
	case ShardReporting:
		return "reporting"
	case ShardStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// shard owns a private entity list and advances it once per tick.
// Entities never leave the shard that constructed them, so the list is only
// touched by the shard's own goroutine.
type shard[S, T, O any] struct {
	id       int
	world    *World[S, T, O]
	inbox    *inbox[T]
	entities []Entity[S, T, O]
	state    atomic.Int32
	last     time.Time
}

func newShard[S, T, O any](w *World[S, T, O], id int) *shard[S, T, O] {
	return &shard[S, T, O]{
		id:    id,
		world: w,
		inbox: w.balancer.inboxFor(id),
	}
}

func (s *shard[S, T, O]) setState(st ShardState) {
	s.state.Store(int32(st))
}

func (s *shard[S, T, O]) State() ShardState {
	return ShardState(s.state.Load())
}

// run is the shard loop. It returns nil on shutdown and a *ShardFailure if
// entity or constructor code panicked. Either way the shard's inbox is
// closed on exit so later routing to it reports ErrShardUnavailable.
func (s *shard[S, T, O]) run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ShardFailure{Shard: s.id, Cause: r}
			logrus.Errorf("shard %d stopped: %v", s.id, r)
		}
		s.world.balancer.closeShard(s.id)
		s.setState(ShardStopped)
	}()

	s.last = time.Now()
	for {
		s.setState(ShardIdle)
		if s.world.stopping.Load() {
			return nil
		}

		s.setState(ShardDraining)
		s.drain()

		s.setState(ShardTicking)
		capsules := s.tick()

		s.setState(ShardReporting)
		if err := s.report(capsules); err != nil {
			if errors.Is(err, ErrConsumerGone) {
				return nil
			}
			return err
		}
	}
}

// drain constructs every queued template. Never blocks.
func (s *shard[S, T, O]) drain() {
	for _, t := range s.inbox.drain() {
		s.entities = append(s.entities, s.world.construct(t, s.world.shared))
	}
}

// tick updates every entity once in list order and removes the killed ones.
// Removal is stable: survivors keep their relative order.
func (s *shard[S, T, O]) tick() []Capsule[O] {
	now := time.Now()
	delta := now.Sub(s.last).Seconds()
	s.last = now

	var capsules []Capsule[O]
	alive := s.entities[:0]
	for _, e := range s.entities {
		a := e.Update(s.world, delta)
		switch a.Kind {
		case ActionDraw:
			capsules = append(capsules, Capsule[O]{Layer: a.Layer, Output: a.Output})
			alive = append(alive, e)
		case ActionKill:
		default:
			alive = append(alive, e)
		}
	}
	killed := len(s.entities) - len(alive)
	clear(s.entities[len(alive):])
	s.entities = alive

	s.world.balancer.Release(s.id, killed)
	return capsules
}

// report hands this tick's capsules to the current frame. The shard whose
// report seals the frame performs the hand-off; every other shard waits
// until the frame has been replaced so it never reports twice into it.
func (s *shard[S, T, O]) report(capsules []Capsule[O]) error {
	w := s.world

	w.frameMu.RLock()
	f := w.current
	sealed, err := f.Report(s.id, capsules)
	w.frameMu.RUnlock()

	switch {
	case errors.Is(err, ErrDoubleReport):
		logrus.Debugf("shard %d: %v, dropping %d capsules", s.id, err, len(capsules))
	case err != nil:
		return err
	case sealed:
		return w.handOff(f)
	}

	select {
	case <-f.released:
	case <-w.done:
	}
	return nil
}
