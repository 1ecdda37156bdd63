package driver

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/ardnew/usbcrypt/protocol"
)

// Default timing.
const (
	DefaultTimeout      = 2 * time.Second
	DefaultDrainTimeout = 50 * time.Millisecond
)

// RetryPolicy bounds how long a transfer is repeated while the token
// answers "not ready yet". Intervals grow exponentially from
// InitialInterval to MaxInterval. The policy gives up after MaxRetries
// repeats or MaxElapsed total, whichever comes first; a zero bound is
// unlimited, but not both.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// DefaultRetryPolicy returns the policy used by DefaultConfig.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      12,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
		MaxElapsed:      30 * time.Second,
	}
}

func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = p.MaxElapsed
	b.Reset()

	var bo backoff.BackOff = b
	if p.MaxRetries > 0 {
		bo = backoff.WithMaxRetries(bo, p.MaxRetries)
	}
	return backoff.WithContext(bo, ctx)
}

// Config configures a Session. Zero fields take their defaults; an unset
// Protocol is protocol.Default.
type Config struct {
	// Protocol selects the opcode table.
	Protocol protocol.Version

	// Timeout bounds each individual transfer.
	Timeout time.Duration

	// DrainTimeout bounds each read while discarding stale data.
	DrainTimeout time.Duration

	// Retry bounds waiting for a busy token.
	Retry RetryPolicy

	// Observer receives operation start/finish events. Nil disables them.
	Observer Observer
}

// DefaultConfig returns the configuration for current firmware.
func DefaultConfig() Config {
	return Config{
		Protocol:     protocol.Default,
		Timeout:      DefaultTimeout,
		DrainTimeout: DefaultDrainTimeout,
		Retry:        DefaultRetryPolicy(),
	}
}

// withDefaults fills unset durations and an unbounded retry policy.
func (c Config) withDefaults() Config {
	c.Protocol = c.Protocol.Resolve()
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	def := DefaultRetryPolicy()
	if c.Retry.InitialInterval <= 0 {
		c.Retry.InitialInterval = def.InitialInterval
	}
	if c.Retry.MaxInterval < c.Retry.InitialInterval {
		c.Retry.MaxInterval = max(def.MaxInterval, c.Retry.InitialInterval)
	}
	if c.Retry.MaxRetries == 0 && c.Retry.MaxElapsed <= 0 {
		c.Retry.MaxRetries = def.MaxRetries
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
	return c
}
