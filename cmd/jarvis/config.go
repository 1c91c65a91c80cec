package main

import "errors"

type Config struct {
	ConfigPath string
	Text       string
	SessionID  string
	Pretty     bool
	NoMusic    bool
	NoLLM      bool
	LogMode    string
	LogLevel   string
}

func (c Config) Validate() error {
	if c.Text == "" {
		return errors.New("missing -text")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Pretty:   true,
		LogLevel: "warn",
	}
}
