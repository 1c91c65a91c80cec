package main

type Config struct {
	ConfigPath string
	Force      bool
	Pretty     bool
	LogLevel   string
}

func (c Config) Validate() error {
	return nil
}

func defaultConfig() Config {
	return Config{
		Pretty:   true,
		LogLevel: "info",
	}
}
