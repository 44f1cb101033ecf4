package engine

import "math/rand"

// ioEntry is one queued I/O write.
type ioEntry struct {
	Tag      string
	Value    any
	Enqueued int64
	// matureAt is Enqueued + base ± jitter, fixed at enqueue time so an
	// entry's latency does not wander between cycles.
	matureAt int64
}

// latencyQueue models transport latency between the runtime and the I/O
// image. Entries mature after base ± jitter milliseconds and are delivered
// exactly once, in enqueue order.
type latencyQueue struct {
	entries []ioEntry
	baseMs  float64
	jitter  float64
	rng     *rand.Rand
}

func newLatencyQueue(baseMs, jitterMs float64, rng *rand.Rand) *latencyQueue {
	return &latencyQueue{baseMs: baseMs, jitter: jitterMs, rng: rng}
}

// Push enqueues a value written at nowMs.
func (q *latencyQueue) Push(tag string, value any, nowMs int64) {
	latency := q.baseMs
	if q.jitter > 0 {
		latency += (q.rng.Float64()*2 - 1) * q.jitter
	}
	if latency < 0 {
		latency = 0
	}
	q.entries = append(q.entries, ioEntry{
		Tag:      tag,
		Value:    value,
		Enqueued: nowMs,
		matureAt: nowMs + int64(latency+0.5),
	})
}

// PopMature removes and returns all entries mature at nowMs, in enqueue
// order. Later writes to the same tag stay later in the slice, so applying
// the result in order leaves the most recent mature value in effect.
func (q *latencyQueue) PopMature(nowMs int64) []ioEntry {
	var mature []ioEntry
	remaining := q.entries[:0]
	for _, e := range q.entries {
		if nowMs >= e.matureAt {
			mature = append(mature, e)
		} else {
			remaining = append(remaining, e)
		}
	}
	q.entries = remaining
	return mature
}

// Len returns the number of queued entries.
func (q *latencyQueue) Len() int {
	return len(q.entries)
}
