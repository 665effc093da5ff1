package inference

// BeliefState is the append-only history of posteriors used as priors by
// SequentialUpdater. The most recent entry is the next prior.
//
// With Retention zero the history is unbounded and memory grows by one grid
// per cycle. A positive Retention keeps only that many newest entries.
type BeliefState struct {
	Retention int

	snapshots [][][]float64
	dropped   int
}

// NewBeliefState seeds a history with an initial prior.
func NewBeliefState(initial [][]float64, retention int) *BeliefState {
	b := &BeliefState{Retention: retention}
	b.Append(initial)
	return b
}

// Append records p as the newest entry.
func (b *BeliefState) Append(p [][]float64) {
	b.snapshots = append(b.snapshots, clone(p))
	if b.Retention > 0 && len(b.snapshots) > b.Retention {
		n := len(b.snapshots) - b.Retention
		b.snapshots = append(b.snapshots[:0:0], b.snapshots[n:]...)
		b.dropped += n
	}
}

// Latest returns a copy of the newest entry, or nil if the history is empty.
func (b *BeliefState) Latest() [][]float64 {
	if len(b.snapshots) == 0 {
		return nil
	}
	return clone(b.snapshots[len(b.snapshots)-1])
}

// Len returns the number of retained entries.
func (b *BeliefState) Len() int { return len(b.snapshots) }

// Dropped returns how many entries were discarded by the retention limit.
func (b *BeliefState) Dropped() int { return b.dropped }

// Snapshots returns copies of the retained entries, oldest first.
func (b *BeliefState) Snapshots() [][][]float64 {
	out := make([][][]float64, len(b.snapshots))
	for i, s := range b.snapshots {
		out[i] = clone(s)
	}
	return out
}
