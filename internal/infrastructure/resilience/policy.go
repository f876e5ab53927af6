package resilience

import "time"

// Config bounds retries and the circuit breaker for one dependency.
type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

// ModelCallConfig allows a single retry. Model calls are slow and billed,
// so the breaker opens after a short window of failures.
func ModelCallConfig() Config {
	return Config{
		RetryMaxAttempts:        2,
		RetryInitialBackoff:     100 * time.Millisecond,
		RetryMaxBackoff:         400 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

// QueueConfig retries publishes longer since a reconnecting broker usually
// recovers within a second.
func QueueConfig() Config {
	return Config{
		RetryMaxAttempts:        3,
		RetryInitialBackoff:     50 * time.Millisecond,
		RetryMaxBackoff:         time.Second,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      20,
		BreakerFailureRatio:     0.6,
		BreakerOpenTimeout:      10 * time.Second,
		BreakerHalfOpenMaxCalls: 1,
	}
}

// Tuning holds operator overrides. Zero values keep the profile.
type Tuning struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	FailureRatio   float64
	OpenTimeout    time.Duration
	DisableBreaker bool
}

func (c Config) Tune(t Tuning) Config {
	if t.MaxAttempts > 0 {
		c.RetryMaxAttempts = t.MaxAttempts
	}
	if t.InitialBackoff > 0 {
		c.RetryInitialBackoff = t.InitialBackoff
	}
	if t.MaxBackoff > 0 {
		c.RetryMaxBackoff = t.MaxBackoff
	}
	if t.FailureRatio > 0 {
		c.BreakerFailureRatio = t.FailureRatio
	}
	if t.OpenTimeout > 0 {
		c.BreakerOpenTimeout = t.OpenTimeout
	}
	if t.DisableBreaker {
		c.BreakerEnabled = false
	}
	return c
}

// normalize fills unset or out-of-range values from the model call profile.
func (c Config) normalize() Config {
	def := ModelCallConfig()
	if c.RetryMaxAttempts <= 0 {
		c.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if c.RetryInitialBackoff <= 0 {
		c.RetryInitialBackoff = def.RetryInitialBackoff
	}
	if c.RetryMaxBackoff <= 0 {
		c.RetryMaxBackoff = def.RetryMaxBackoff
	}
	if c.RetryMaxBackoff < c.RetryInitialBackoff {
		c.RetryMaxBackoff = c.RetryInitialBackoff
	}
	if c.RetryMultiplier < 1 {
		c.RetryMultiplier = def.RetryMultiplier
	}
	if c.BreakerMinRequests == 0 {
		c.BreakerMinRequests = def.BreakerMinRequests
	}
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		c.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if c.BreakerOpenTimeout <= 0 {
		c.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if c.BreakerHalfOpenMaxCalls == 0 {
		c.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}
	return c
}
