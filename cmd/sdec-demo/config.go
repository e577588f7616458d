package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/sdec-dev/sdec/pkg/codec"
)

type fileConfig struct {
	Addr         string `toml:"addr"`
	TickInterval string `toml:"tick_interval"`
	Entities     int    `toml:"entities"`
	HeaderMode   string `toml:"header_mode"`
	WriteTimeout string `toml:"write_timeout"`
}

type demoConfig struct {
	Addr         string
	TickInterval time.Duration
	Entities     int
	Mode         codec.HeaderMode
	WriteTimeout time.Duration
}

func defaultDemoConfig() demoConfig {
	return demoConfig{
		Addr:         ":8080",
		TickInterval: 50 * time.Millisecond,
		Entities:     16,
		Mode:         codec.ModeStandard,
		WriteTimeout: 2 * time.Second,
	}
}

func loadDemoConfig(path string) (demoConfig, error) {
	cfg := defaultDemoConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return demoConfig{}, fmt.Errorf("load demo config: %w", err)
	}

	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}

	if meta.IsDefined("tick_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.TickInterval))
		if err != nil {
			return demoConfig{}, fmt.Errorf("parse tick_interval: %w", err)
		}
		cfg.TickInterval = d
	}

	if meta.IsDefined("entities") {
		cfg.Entities = raw.Entities
	}

	if meta.IsDefined("header_mode") {
		mode, err := parseHeaderMode(raw.HeaderMode)
		if err != nil {
			return demoConfig{}, err
		}
		cfg.Mode = mode
	}

	if meta.IsDefined("write_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.WriteTimeout))
		if err != nil {
			return demoConfig{}, fmt.Errorf("parse write_timeout: %w", err)
		}
		cfg.WriteTimeout = d
	}

	if err := validateDemoConfig(cfg); err != nil {
		return demoConfig{}, err
	}
	return cfg, nil
}

func parseHeaderMode(s string) (codec.HeaderMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard":
		return codec.ModeStandard, nil
	case "compact":
		return codec.ModeCompact, nil
	default:
		return 0, fmt.Errorf("unknown header_mode %q (want standard or compact)", s)
	}
}

func validateDemoConfig(cfg demoConfig) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("demo config missing addr")
	}
	if cfg.TickInterval < time.Millisecond {
		return fmt.Errorf("tick_interval %s too small (minimum 1ms)", cfg.TickInterval)
	}
	if cfg.Entities < 1 || cfg.Entities > 256 {
		return fmt.Errorf("entities %d out of range (1..256)", cfg.Entities)
	}
	if cfg.WriteTimeout < time.Millisecond {
		return fmt.Errorf("write_timeout %s too small (minimum 1ms)", cfg.WriteTimeout)
	}
	return nil
}
