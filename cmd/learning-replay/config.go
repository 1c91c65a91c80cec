package main

type Config struct {
	ConfigPath string
	Backup     bool
	OutPath    string
	Pretty     bool
	LogLevel   string
}

func (c Config) Validate() error {
	return nil
}

func defaultConfig() Config {
	return Config{
		Backup:   true,
		Pretty:   true,
		LogLevel: "info",
	}
}
