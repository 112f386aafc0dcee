// Package history keeps the bounded intraday sample sequence of a holding.
package history

import (
	"iter"

	"FundTracker/internal/model"
)

// DefaultLimit is the number of points kept per holding per day.
const DefaultLimit = 50

// Append returns a new sequence with p merged into seq. A point with the same
// minute replaces the existing one in place; otherwise p goes to the end. The
// result is trimmed from the front to at most limit points (limit <= 0 means
// unbounded). seq is never modified.
func Append(seq []model.HistoryPoint, p model.HistoryPoint, limit int) []model.HistoryPoint {
	out := make([]model.HistoryPoint, len(seq), len(seq)+1)
	copy(out, seq)

	replaced := false
	for i := range out {
		if out[i].Time == p.Time {
			out[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		out = append(out, p)
	}

	if limit > 0 && len(out) > limit {
		trimmed := make([]model.HistoryPoint, limit)
		copy(trimmed, out[len(out)-limit:])
		out = trimmed
	}
	return out
}

// Buffer is a bounded sequence of points for one (holding, date). It is not
// safe for concurrent use; callers serialize access.
type Buffer struct {
	limit  int
	points []model.HistoryPoint
}

// NewBuffer builds a buffer, trimming the seed points to limit.
func NewBuffer(limit int, points ...model.HistoryPoint) *Buffer {
	b := &Buffer{limit: limit}
	for _, p := range points {
		b.Append(p)
	}
	return b
}

// Append merges p into the buffer.
func (b *Buffer) Append(p model.HistoryPoint) {
	b.points = Append(b.points, p, b.limit)
}

// Limit returns the configured bound (<= 0 means unbounded).
func (b *Buffer) Limit() int { return b.limit }

// Len returns the number of retained points.
func (b *Buffer) Len() int { return len(b.points) }

// Points returns a copy of the retained points, oldest first.
func (b *Buffer) Points() []model.HistoryPoint {
	out := make([]model.HistoryPoint, len(b.points))
	copy(out, b.points)
	return out
}

// All iterates over a snapshot of the retained points, oldest first. The
// sequence can be ranged over any number of times.
func (b *Buffer) All() iter.Seq[model.HistoryPoint] {
	snapshot := b.Points()
	return func(yield func(model.HistoryPoint) bool) {
		for _, p := range snapshot {
			if !yield(p) {
				return
			}
		}
	}
}
