package world

import (
	"fmt"
	"sort"

	"nanofab.ai/internal/sim/lattice"
)

// Bot is a live nanobot. Seeds are the unused ids it may hand to children,
// kept in ascending order.
type Bot struct {
	ID    int
	Pos   lattice.Coord
	Seeds []int
}

func newInitialBot(seedCount int) *Bot {
	seeds := make([]int, 0, seedCount-1)
	for id := 2; id <= seedCount; id++ {
		seeds = append(seeds, id)
	}
	return &Bot{ID: 1, Seeds: seeds}
}

func (b *Bot) clone() Bot {
	seeds := make([]int, len(b.Seeds))
	copy(seeds, b.Seeds)
	return Bot{ID: b.ID, Pos: b.Pos, Seeds: seeds}
}

// splitSeeds hands the first seed (as id) and the next m seeds to a child.
func splitSeeds(parent []int, m int) (childID int, child, kept []int, err error) {
	if len(parent) == 0 {
		return 0, nil, nil, fmt.Errorf("no seeds to hand out")
	}
	if m+1 > len(parent) {
		return 0, nil, nil, fmt.Errorf("child needs %d seeds, parent holds %d", m+1, len(parent))
	}
	child = make([]int, m)
	copy(child, parent[1:m+1])
	kept = make([]int, len(parent)-m-1)
	copy(kept, parent[m+1:])
	return parent[0], child, kept, nil
}

// spawnChild adds a child bot. The split is validated during planning, so
// errors here indicate a scheduler bug.
func (w *World) spawnChild(parent *Bot, pos lattice.Coord, m int) (*Bot, error) {
	id, childSeeds, kept, err := splitSeeds(parent.Seeds, m)
	if err != nil {
		return nil, err
	}
	parent.Seeds = kept
	child := &Bot{ID: id, Pos: pos, Seeds: childSeeds}
	w.bots = append(w.bots, child)
	return child, nil
}

// merge folds secondary's id and seeds into primary and removes secondary.
func (w *World) merge(primary, secondary *Bot) {
	seeds := make([]int, 0, len(primary.Seeds)+len(secondary.Seeds)+1)
	seeds = append(seeds, primary.Seeds...)
	seeds = append(seeds, secondary.ID)
	seeds = append(seeds, secondary.Seeds...)
	sort.Ints(seeds)
	primary.Seeds = seeds
	w.removeBot(secondary.ID)
}

func (w *World) removeBot(id int) {
	out := w.bots[:0]
	for _, b := range w.bots {
		if b.ID != id {
			out = append(out, b)
		}
	}
	for i := len(out); i < len(w.bots); i++ {
		w.bots[i] = nil
	}
	w.bots = out
}

func (w *World) sortBots() {
	sort.Slice(w.bots, func(i, j int) bool { return w.bots[i].ID < w.bots[j].ID })
}

func (w *World) botAt(pos lattice.Coord) *Bot {
	for _, b := range w.bots {
		if b.Pos == pos {
			return b
		}
	}
	return nil
}

// seedUnion returns every id held by a live bot, as id or seed, sorted.
func (w *World) seedUnion() []int {
	var ids []int
	for _, b := range w.bots {
		ids = append(ids, b.ID)
		ids = append(ids, b.Seeds...)
	}
	sort.Ints(ids)
	return ids
}

// seedsConserved checks that live bots partition the original pool, ignoring
// ids retired by Halt.
func (w *World) seedsConserved() bool {
	ids := w.seedUnion()
	for i := 1; i < len(ids); i++ {
		if ids[i] == ids[i-1] {
			return false
		}
	}
	if w.status == Halted {
		return len(ids) == 0
	}
	if len(ids) != w.tune.SeedCount {
		return false
	}
	for i, id := range ids {
		if id != i+1 {
			return false
		}
	}
	return true
}
