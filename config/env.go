package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvString returns the trimmed value of key and whether it was set to a non-blank value.
func EnvString(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	v, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

// EnvDuration parses key with time.ParseDuration.
func EnvDuration(key string) (time.Duration, bool, error) {
	v, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return d, true, nil
}

// EnvBool parses key with strconv.ParseBool.
func EnvBool(key string) (bool, bool, error) {
	v, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return b, true, nil
}

// FromEnv returns DefaultConfig overlaid with IMAGEFETCH_* variables.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()

	ints := []struct {
		key string
		dst *int
	}{
		{"IMAGEFETCH_MAX_RESULTS", &cfg.MaxResults},
	}
	for _, e := range ints {
		if v, ok, err := EnvInt(e.key); err != nil {
			return nil, err
		} else if ok {
			*e.dst = v
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"IMAGEFETCH_DIRECT_TIMEOUT", &cfg.DirectTimeout},
		{"IMAGEFETCH_SALES_TIMEOUT", &cfg.SalesPageTimeout},
		{"IMAGEFETCH_SALES_IMAGE_TIMEOUT", &cfg.SalesImageTimeout},
		{"IMAGEFETCH_CHANNEL_TIMEOUT", &cfg.ChannelSearchTimeout},
		{"IMAGEFETCH_CHANNEL_INTERVAL", &cfg.ChannelMinInterval},
		{"IMAGEFETCH_DEADLINE", &cfg.RequestDeadline},
	}
	for _, e := range durations {
		if v, ok, err := EnvDuration(e.key); err != nil {
			return nil, err
		} else if ok {
			*e.dst = v
		}
	}

	if v, ok, err := EnvBool("IMAGEFETCH_PARALLEL"); err != nil {
		return nil, err
	} else if ok {
		cfg.Parallel = v
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"IMAGEFETCH_USER_AGENT", &cfg.UserAgent},
		{"IMAGEFETCH_LISTEN_ADDR", &cfg.ListenAddr},
		{"IMAGEFETCH_METRICS_ADDR", &cfg.MetricsAddr},
	}
	for _, e := range strs {
		if v, ok := EnvString(e.key); ok {
			*e.dst = v
		}
	}

	return cfg, nil
}
