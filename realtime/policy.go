package realtime

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultRetryDelay is the reconnect delay of the zero Fixed policy.
const DefaultRetryDelay = 3 * time.Second

// ReconnectPolicy decides how long to wait before reconnect attempt n
// (starting at 1). Policies never give up; Run stops only when its context
// ends.
type ReconnectPolicy interface {
	Next(attempt int) time.Duration
}

// HintedPolicy is implemented by policies that can follow the server's
// "retry:" field. hint is zero when the server sent none.
type HintedPolicy interface {
	ReconnectPolicy
	NextWithHint(attempt int, hint time.Duration) time.Duration
}

// Fixed waits the same Delay before every attempt.
type Fixed struct {
	Delay time.Duration
	// HonorServerRetry uses the server's retry hint, when one was sent, in
	// place of Delay.
	HonorServerRetry bool
}

func (f Fixed) Next(int) time.Duration {
	if f.Delay <= 0 {
		return DefaultRetryDelay
	}
	return f.Delay
}

func (f Fixed) NextWithHint(attempt int, hint time.Duration) time.Duration {
	if f.HonorServerRetry && hint > 0 {
		return hint
	}
	return f.Next(attempt)
}

// Exponential multiplies the delay after every consecutive failure, capped
// at Max. Zero fields take the package defaults.
type Exponential struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func (e Exponential) Next(attempt int) time.Duration {
	b := e.backOff()
	d := b.NextBackOff()
	for i := 1; i < attempt && d < b.MaxInterval && b.Multiplier > 1; i++ {
		d = b.NextBackOff()
	}
	return d
}

// backOff returns a fresh, unjittered schedule that never stops.
func (e Exponential) backOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     e.Initial,
		MaxInterval:         e.Max,
		Multiplier:          e.Multiplier,
		RandomizationFactor: 0,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	if b.InitialInterval <= 0 {
		b.InitialInterval = 500 * time.Millisecond
	}
	if b.MaxInterval <= 0 {
		b.MaxInterval = 30 * time.Second
	}
	if b.InitialInterval > b.MaxInterval {
		b.InitialInterval = b.MaxInterval
	}
	if b.Multiplier < 1 {
		b.Multiplier = 2
	}
	b.Reset()
	return b
}

var (
	_ HintedPolicy    = Fixed{}
	_ ReconnectPolicy = Exponential{}
)
