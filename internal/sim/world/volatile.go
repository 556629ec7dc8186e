package world

import (
	"nanofab.ai/internal/sim/lattice"
	"nanofab.ai/internal/sim/trace"
)

// pairFusions links every FusionP to the FusionS issued by the bot it points
// at, which must point back.
func (w *World) pairFusions(intents []*intent) error {
	byPos := make(map[lattice.Coord]int, len(intents))
	for i, it := range intents {
		byPos[it.bot.Pos] = i
	}
	for i, it := range intents {
		if it.in.Op != trace.OpFusionP {
			continue
		}
		j, ok := byPos[it.target]
		if !ok {
			return w.fail(KindUnmatchedFusion, it.bot.ID, "no bot at %s", it.target)
		}
		other := intents[j]
		if other.in.Op != trace.OpFusionS || other.target != it.bot.Pos || other.partner >= 0 {
			return w.fail(KindUnmatchedFusion, it.bot.ID, "bot %d at %s does not issue FusionS back", other.bot.ID, it.target)
		}
		it.partner = j
		other.partner = i
	}
	for _, it := range intents {
		if it.in.Op == trace.OpFusionS && it.partner < 0 {
			return w.fail(KindUnmatchedFusion, it.bot.ID, "FusionS toward %s has no primary", it.target)
		}
	}
	return nil
}

// checkVolatile fails the round if two interference groups share a cell. A
// matched fusion pair is one group; every other intent is its own.
func (w *World) checkVolatile(intents []*intent) error {
	owner := make(map[lattice.Coord]int)
	for i, it := range intents {
		group := i
		if it.partner >= 0 && it.partner < i {
			group = it.partner
		}
		for _, c := range it.vol {
			prev, taken := owner[c]
			if !taken {
				owner[c] = group
				continue
			}
			if prev != group {
				return w.fail(KindVolatileConflict, it.bot.ID, "cell %s also touched by bot %d", c, intents[prev].bot.ID)
			}
		}
	}
	return nil
}
