package main

import (
	"math"
	"sync"

	"github.com/sdec-dev/sdec/pkg/codec"
)

// worldSchemaDoc describes the replicated state of the demo simulation.
// Both the server and the connect client build their codecs from it, and
// the server also serves it verbatim on /schema.
const worldSchemaDoc = `{
  "components": [
    {
      "id": 1,
      "name": "transform",
      "fields": [
        {"id": 1, "name": "x", "kind": "fixedpoint", "lo": -512, "hi": 512, "bits": 18},
        {"id": 2, "name": "y", "kind": "fixedpoint", "lo": -512, "hi": 512, "bits": 18},
        {"id": 3, "name": "heading", "kind": "uint", "bits": 9},
        {"id": 4, "name": "alive", "kind": "bool"}
      ]
    },
    {
      "id": 2,
      "name": "score",
      "fields": [
        {"id": 1, "name": "points", "kind": "varuint"},
        {"id": 2, "name": "drift", "kind": "varint"}
      ]
    }
  ]
}`

// world is a toy simulation: entities orbit the origin at staggered radii
// and speeds while their scores tick up. It exists to produce plausible
// snapshot streams, not to be a game.
type world struct {
	mu       sync.RWMutex
	entities int
	tick     codec.Tick
	snap     *codec.Snapshot
}

func newWorld(entities int) *world {
	w := &world{entities: entities}
	w.snap = w.buildSnapshot(1)
	w.tick = 1
	return w
}

// step advances the simulation one tick and returns the new snapshot. The
// returned snapshot is never mutated afterwards; readers may share it.
func (w *world) step() *codec.Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tick++
	w.snap = w.buildSnapshot(w.tick)
	return w.snap
}

// current returns the latest snapshot without advancing the simulation.
func (w *world) current() *codec.Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snap
}

func (w *world) buildSnapshot(tick codec.Tick) *codec.Snapshot {
	snap := &codec.Snapshot{Tick: tick, Entities: make([]codec.Entity, 0, w.entities)}
	for i := 0; i < w.entities; i++ {
		radius := 40 + 8*float64(i%16)
		speed := 0.02 + 0.005*float64(i%8)
		theta := speed * float64(tick)

		x := radius * math.Cos(theta)
		y := radius * math.Sin(theta)
		heading := uint64(math.Mod(theta*180/math.Pi, 360))
		alive := (uint32(tick)/64+uint32(i))%8 != 0
		points := uint32(tick) + 10*uint32(i)
		drift := int32(math.Round(40 * math.Sin(theta/3)))

		snap.Entities = append(snap.Entities, codec.Entity{
			ID: codec.EntityID(i + 1),
			Components: []codec.Component{
				{ID: 1, Fields: []codec.Value{
					codec.Fixed(x),
					codec.Fixed(y),
					codec.Uint(heading),
					codec.Bool(alive),
				}},
				{ID: 2, Fields: []codec.Value{
					codec.VarUint(points),
					codec.VarInt(drift),
				}},
			},
		})
	}
	return snap
}
