package main

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	ConfigPath string
	OutPath    string
	Format     string
	Recent     int
	Now        string
	LogLevel   string
}

func (c Config) Validate() error {
	if c.OutPath == "" {
		return errors.New("missing -out")
	}
	switch c.Format {
	case "markdown", "json":
	default:
		return fmt.Errorf("-format must be markdown or json, got %q", c.Format)
	}
	if c.Recent < 0 {
		return errors.New("-recent must be >= 0")
	}
	if _, err := c.ReportTime(); err != nil {
		return err
	}
	return nil
}

// ReportTime is -now parsed as RFC3339, or the current time when unset.
func (c Config) ReportTime() (time.Time, error) {
	if c.Now == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, c.Now)
	if err != nil {
		return time.Time{}, fmt.Errorf("-now: %w", err)
	}
	return t, nil
}

func defaultConfig() Config {
	return Config{
		OutPath:  "-",
		Format:   "markdown",
		Recent:   20,
		LogLevel: "warn",
	}
}
