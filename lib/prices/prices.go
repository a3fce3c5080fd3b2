package prices

import (
	"sync"
	"time"

	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/pool"
)

type observation struct {
	tick int
	at   time.Time
}

// Observations keeps the last N tick observations of one pool and derives a
// time weighted average tick from them. Safe for concurrent use.
type Observations struct {
	mu     sync.Mutex
	obs    []observation
	index  int
	count  int
	length int
}

func NewObservations(length int) *Observations {
	if length < 1 {
		length = 1
	}
	return &Observations{obs: make([]observation, length), length: length}
}

// Add records tick at time at. Observations not newer than the last one are
// dropped.
func (o *Observations) Add(tick int, at time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.count > 0 && !at.After(o.last().at) {
		return false
	}
	o.obs[o.index] = observation{tick: tick, at: at}
	o.index = (o.index + 1) % o.length
	if o.count < o.length {
		o.count++
	}
	return true
}

func (o *Observations) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.count
}

func (o *Observations) last() observation {
	return o.obs[(o.index-1+o.length)%o.length]
}

// ordered returns the stored observations oldest first.
func (o *Observations) ordered() []observation {
	out := make([]observation, 0, o.count)
	start := (o.index - o.count + o.length) % o.length
	for i := 0; i < o.count; i++ {
		out = append(out, o.obs[(start+i)%o.length])
	}
	return out
}

// Twap weights each tick by how long it was the latest observation, up to
// the newest one. With a single observation the twap is that tick.
func (o *Observations) Twap() (*pool.Twap, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.count == 0 {
		return nil, false
	}
	obs := o.ordered()
	newest := obs[len(obs)-1]
	span := newest.at.Sub(obs[0].at)
	if span <= 0 {
		return &pool.Twap{Tick: newest.tick, ObservedAt: newest.at}, true
	}
	// tick * seconds stays far below int64 for any realistic window
	var weighted int64
	for i := 0; i < len(obs)-1; i++ {
		weighted += int64(obs[i].tick) * int64(obs[i+1].at.Sub(obs[i].at)/time.Millisecond)
	}
	tick := floorDiv64(weighted, int64(span/time.Millisecond))
	return &pool.Twap{Tick: int(tick), ObservedAt: newest.at}, true
}

func floorDiv64(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
