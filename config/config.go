package config

import (
	"fmt"
	"time"

	"github.com/aluiziolira/go-fetch-images/fetch"
)

// Config holds image fetcher configuration.
type Config struct {
	MaxResults           int
	DirectTimeout        time.Duration
	SalesPageTimeout     time.Duration
	SalesImageTimeout    time.Duration
	ChannelSearchTimeout time.Duration
	ChannelMinInterval   time.Duration
	RequestDeadline      time.Duration // 0 derives it from the strategy timeouts
	Parallel             bool
	UserAgent            string
	ListenAddr           string
	MetricsAddr          string // empty serves /metrics on ListenAddr
	ShutdownGrace        time.Duration
	Verbose              bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxResults:           3,
		DirectTimeout:        500 * time.Millisecond,
		SalesPageTimeout:     200 * time.Millisecond,
		SalesImageTimeout:    50 * time.Millisecond,
		ChannelSearchTimeout: 300 * time.Millisecond,
		ChannelMinInterval:   200 * time.Millisecond,
		RequestDeadline:      0,
		Parallel:             false,
		UserAgent:            fetch.DefaultUserAgent,
		ListenAddr:           ":8080",
		MetricsAddr:          "",
		ShutdownGrace:        10 * time.Second,
		Verbose:              false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.MaxResults <= 0 {
		return fmt.Errorf("max results must be positive")
	}
	if c.DirectTimeout <= 0 {
		return fmt.Errorf("direct timeout must be positive")
	}
	if c.SalesPageTimeout <= 0 {
		return fmt.Errorf("sales page timeout must be positive")
	}
	if c.SalesImageTimeout <= 0 {
		return fmt.Errorf("sales image timeout must be positive")
	}
	if c.ChannelSearchTimeout <= 0 {
		return fmt.Errorf("channel search timeout must be positive")
	}
	if c.ChannelMinInterval < 0 {
		return fmt.Errorf("channel min interval cannot be negative")
	}
	if c.RequestDeadline < 0 {
		return fmt.Errorf("request deadline cannot be negative")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.MetricsAddr != "" && c.MetricsAddr == c.ListenAddr {
		return fmt.Errorf("metrics address %q must differ from listen address", c.MetricsAddr)
	}
	if c.ShutdownGrace < 0 {
		return fmt.Errorf("shutdown grace cannot be negative")
	}

	return nil
}

// StrategyDeadline returns the bound applied to a whole fetch request. When
// RequestDeadline is unset it is the sum of every strategy's timeouts plus
// one throttle interval.
func (c *Config) StrategyDeadline() time.Duration {
	if c.RequestDeadline > 0 {
		return c.RequestDeadline
	}
	return c.DirectTimeout +
		c.SalesPageTimeout + c.SalesImageTimeout +
		c.ChannelSearchTimeout + c.ChannelMinInterval
}
