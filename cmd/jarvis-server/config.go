package main

import (
	"errors"
	"time"
)

type Config struct {
	ConfigPath      string
	Addr            string
	LogMode         string
	LogLevel        string
	ShutdownTimeout time.Duration
}

func (c Config) Validate() error {
	if c.ShutdownTimeout <= 0 {
		return errors.New("-shutdown-timeout must be > 0")
	}
	return nil
}

func defaultConfig() Config {
	return Config{ShutdownTimeout: 15 * time.Second}
}
