package driver

import (
	"sync"
	"time"

	"github.com/ardnew/usbcrypt/pkg"
	"github.com/ardnew/usbcrypt/protocol"
)

// Stats describes one finished operation.
type Stats struct {
	BytesOut int64 // payload written to the token
	BytesIn  int64 // payload read from the token
	Duration time.Duration
	Err      error
}

// Observer is notified around every operation. Calls are made with the
// session lock held and must not call back into the Session.
type Observer interface {
	OperationStarted(op protocol.Op)
	OperationFinished(op protocol.Op, stats Stats)
}

type nopObserver struct{}

func (nopObserver) OperationStarted(protocol.Op)         {}
func (nopObserver) OperationFinished(protocol.Op, Stats) {}

// Observers fans events out to several observers in order.
type Observers []Observer

func (o Observers) OperationStarted(op protocol.Op) {
	for _, obs := range o {
		obs.OperationStarted(op)
	}
}

func (o Observers) OperationFinished(op protocol.Op, stats Stats) {
	for _, obs := range o {
		obs.OperationFinished(op, stats)
	}
}

// OpCounters accumulates the outcomes of one operation kind.
type OpCounters struct {
	Calls    uint64        `json:"calls" yaml:"calls"`
	Failures uint64        `json:"failures" yaml:"failures"`
	BytesOut int64         `json:"bytes_out" yaml:"bytes_out"`
	BytesIn  int64         `json:"bytes_in" yaml:"bytes_in"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Counters is an Observer keeping per-operation totals.
type Counters struct {
	mu  sync.Mutex
	ops map[protocol.Op]*OpCounters
}

// NewCounters creates empty counters.
func NewCounters() *Counters {
	return &Counters{ops: make(map[protocol.Op]*OpCounters)}
}

func (c *Counters) OperationStarted(protocol.Op) {}

func (c *Counters) OperationFinished(op protocol.Op, stats Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	oc, ok := c.ops[op]
	if !ok {
		oc = &OpCounters{}
		c.ops[op] = oc
	}
	oc.Calls++
	if stats.Err != nil {
		oc.Failures++
	}
	oc.BytesOut += stats.BytesOut
	oc.BytesIn += stats.BytesIn
	oc.Duration += stats.Duration
}

// Get returns the totals for op.
func (c *Counters) Get(op protocol.Op) OpCounters {
	c.mu.Lock()
	defer c.mu.Unlock()
	if oc, ok := c.ops[op]; ok {
		return *oc
	}
	return OpCounters{}
}

// Snapshot returns a copy of every non-empty total.
func (c *Counters) Snapshot() map[protocol.Op]OpCounters {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[protocol.Op]OpCounters, len(c.ops))
	for op, oc := range c.ops {
		out[op] = *oc
	}
	return out
}

// LogObserver writes operation events to the driver log.
type LogObserver struct{}

func (LogObserver) OperationStarted(op protocol.Op) {
	pkg.LogDebug(pkg.ComponentDriver, "operation started", "op", op.String())
}

func (LogObserver) OperationFinished(op protocol.Op, stats Stats) {
	args := []any{
		"op", op.String(),
		"bytes_out", stats.BytesOut,
		"bytes_in", stats.BytesIn,
		"duration", stats.Duration,
	}
	if stats.Err != nil {
		pkg.LogWarn(pkg.ComponentDriver, "operation failed", append(args, "error", stats.Err)...)
		return
	}
	pkg.LogInfo(pkg.ComponentDriver, "operation finished", args...)
}
