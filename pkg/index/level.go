package index

import (
	"math/rand"
	"sync"
)

// levelGenerator draws tower heights with a geometric distribution: starting
// from 1, each fair coin flip that lands heads grows the tower by one level,
// capped at maxLevel. The entropy source is injected by the caller; draws are
// serialized so concurrent inserts may share a single generator.
type levelGenerator struct {
	mtx      sync.Mutex
	rnd      *rand.Rand
	maxLevel int
}

func newLevelGenerator(src rand.Source, maxLevel int) *levelGenerator {
	return &levelGenerator{rnd: rand.New(src), maxLevel: maxLevel}
}

// draw returns a height in [1, maxLevel].
func (g *levelGenerator) draw() int {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	height := 1
	for height < g.maxLevel && g.rnd.Intn(2) == 1 {
		height++
	}
	return height
}
