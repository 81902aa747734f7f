package cmd

import (
	"math"
	"math/rand"

	"github.com/lamesim/lame/sim"
)

// Arena is the shared resource of the demo world: the bounds every orbiter
// bounces inside.
type Arena struct {
	Width, Height float64
	MaxGeneration int // orbiters at this generation no longer spawn children
}

// OrbiterSpec is the template for one orbiter.
type OrbiterSpec struct {
	ID         int
	Layer      uint8
	X, Y       float64
	VX, VY     float64
	Lifetime   int // ticks before the orbiter kills itself
	Generation int
	Seed       int64
}

// Sprite is the per-tick output of an orbiter.
type Sprite struct {
	ID    int
	Layer uint8
	X, Y  float64
}

type demoHandle = sim.Handle[Arena, OrbiterSpec]

// Orbiter moves at constant velocity inside the arena, reflecting off its
// walls. Halfway through its life it spawns one child on the next layer up.
type Orbiter struct {
	spec    OrbiterSpec
	arena   Arena
	age     int
	spawned bool
	rng     *rand.Rand
}

// NewOrbiter is the demo world's entity constructor.
func NewOrbiter(spec OrbiterSpec, arena Arena) sim.Entity[Arena, OrbiterSpec, Sprite] {
	return &Orbiter{
		spec:  spec,
		arena: arena,
		rng:   rand.New(rand.NewSource(spec.Seed)),
	}
}

// Update advances the orbiter by delta seconds.
func (o *Orbiter) Update(h demoHandle, delta float64) sim.Action[Sprite] {
	o.age++
	if o.age > o.spec.Lifetime {
		return sim.Kill[Sprite]()
	}

	o.spec.X, o.spec.VX = reflect(o.spec.X+o.spec.VX*delta, o.spec.VX, o.arena.Width)
	o.spec.Y, o.spec.VY = reflect(o.spec.Y+o.spec.VY*delta, o.spec.VY, o.arena.Height)

	if !o.spawned && o.age*2 >= o.spec.Lifetime && o.spec.Generation < o.arena.MaxGeneration {
		o.spawned = true
		// A closed world rejects the child; the orbiter keeps drawing regardless.
		_ = h.AddEntity(o.child())
	}

	return sim.Draw(o.spec.Layer, Sprite{ID: o.spec.ID, Layer: o.spec.Layer, X: o.spec.X, Y: o.spec.Y})
}

func (o *Orbiter) child() OrbiterSpec {
	angle := o.rng.Float64() * 2 * math.Pi
	speed := math.Hypot(o.spec.VX, o.spec.VY)
	return OrbiterSpec{
		ID:         o.spec.ID*10 + 1,
		Layer:      o.spec.Layer + 1,
		X:          o.spec.X,
		Y:          o.spec.Y,
		VX:         speed * math.Cos(angle),
		VY:         speed * math.Sin(angle),
		Lifetime:   o.spec.Lifetime,
		Generation: o.spec.Generation + 1,
		Seed:       o.rng.Int63(),
	}
}

// reflect folds pos back inside [0, limit] and flips velocity on a bounce.
func reflect(pos, vel, limit float64) (float64, float64) {
	if limit <= 0 {
		return 0, vel
	}
	period := 2 * limit
	p := math.Mod(pos, period)
	if p < 0 {
		p += period
	}
	if p > limit {
		p = period - p
	}
	// Each wall crossed flips the direction once.
	if int64(math.Abs(math.Floor(pos/limit)))%2 == 1 {
		vel = -vel
	}
	return p, vel
}

// demoTemplates builds n first-generation orbiters spread over layers 0-3.
func demoTemplates(n, lifetime int, arena Arena, seed int64) []OrbiterSpec {
	seeds := NewSeedPartition(seed)
	rng := seeds.Stream(streamPlacement)
	specs := make([]OrbiterSpec, n)
	for i := range specs {
		angle := rng.Float64() * 2 * math.Pi
		speed := 10 + rng.Float64()*40
		specs[i] = OrbiterSpec{
			ID:       i + 1,
			Layer:    uint8(i % 4),
			X:        rng.Float64() * arena.Width,
			Y:        rng.Float64() * arena.Height,
			VX:       speed * math.Cos(angle),
			VY:       speed * math.Sin(angle),
			Lifetime: lifetime,
			Seed:     seeds.Seed(orbiterStream(i + 1)),
		}
	}
	return specs
}
