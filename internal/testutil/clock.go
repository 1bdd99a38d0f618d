package testutil

import (
	"fmt"
	"sync/atomic"
	"time"

	"stash-go/internal/stash"
)

// Epoch is the instant every FixedClock starts at.
var Epoch = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// StubClock only moves when a test moves it.
type StubClock struct {
	nanos atomic.Int64
}

var _ stash.Clock = (*StubClock)(nil)

func NewStubClock(t time.Time) *StubClock {
	c := &StubClock{}
	c.Set(t)
	return c
}

// FixedClock starts at Epoch. Staging sweeps compare against real file
// mtimes, so sweep tests push it forward with Advance.
func FixedClock() *StubClock { return NewStubClock(Epoch) }

func (c *StubClock) Now() time.Time { return time.Unix(0, c.nanos.Load()).UTC() }

func (c *StubClock) Set(t time.Time) { c.nanos.Store(t.UnixNano()) }

func (c *StubClock) Advance(d time.Duration) { c.nanos.Add(int64(d)) }

// StubIDGenerator hands out UUID-shaped IDs whose first eight hex digits
// count up from 1, e.g. "00000002-0000-4000-8000-000000000002". Collision
// suffixes derived from an ID are therefore predictable.
type StubIDGenerator struct {
	n atomic.Uint32
}

var _ stash.IDGenerator = (*StubIDGenerator)(nil)

func NewStubIDGenerator() *StubIDGenerator { return &StubIDGenerator{} }

func (g *StubIDGenerator) New() string { return StubID(g.n.Add(1)) }

// StubID is the n-th ID a fresh StubIDGenerator returns.
func StubID(n uint32) string {
	return fmt.Sprintf("%08x-0000-4000-8000-%012x", n, n)
}
