package refresher

import "time"

const (
	minInterval  = time.Second
	defaultRetry = 5 * time.Second
)

type Config struct {
	// Interval between refreshes. Zero disables the refresher.
	Interval time.Duration
	// RetryDelay is used instead of Interval after a failed refresh.
	RetryDelay time.Duration
}

func (c Config) Enabled() bool {
	return c.Interval > 0
}

func normalizeConfig(cfg Config) Config {
	if cfg.Interval > 0 && cfg.Interval < minInterval {
		cfg.Interval = minInterval
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetry
	}
	if cfg.Interval > 0 && cfg.RetryDelay > cfg.Interval {
		cfg.RetryDelay = cfg.Interval
	}
	return cfg
}
