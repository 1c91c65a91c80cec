package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	json "github.com/goccy/go-json"

	"github.com/theimaginaryfoundation/jarvis/assistant"
	"github.com/theimaginaryfoundation/jarvis/bootstrap"
	"github.com/theimaginaryfoundation/jarvis/config"
	"github.com/theimaginaryfoundation/jarvis/logging"
)

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svcCfg, err := config.Load(cfg.ConfigPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if cfg.LogMode != "" {
		svcCfg.Logging.Mode = cfg.LogMode
	}
	log, err := logging.New(svcCfg.Logging.Mode, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	defer log.Sync()

	app, err := bootstrap.Build(ctx, svcCfg, log, bootstrap.Options{SkipLLM: cfg.NoLLM, SkipPlayer: cfg.NoMusic})
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	defer app.Close()

	warnings, err := app.Orchestrator.Init(ctx)
	for _, w := range warnings {
		log.Warn("init warning", "warning", w)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	resp, perr := app.Orchestrator.Process(ctx, assistant.Request{Text: cfg.Text, SessionID: cfg.SessionID})
	if err := writeResponse(os.Stdout, resp, cfg.Pretty); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	if perr != nil {
		os.Exit(1)
	}
}

func writeResponse(w io.Writer, resp assistant.Response, pretty bool) error {
	var b []byte
	var err error
	if pretty {
		b, err = json.MarshalIndent(resp, "", "  ")
	} else {
		b, err = json.Marshal(resp)
	}
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)
	fs.StringVar(&cfg.ConfigPath, "config", "", "Optional YAML config file (env JARVIS_* overrides it)")
	fs.StringVar(&cfg.Text, "text", "", "What you want to tell the assistant")
	fs.StringVar(&cfg.SessionID, "session", "", "Optional session id recorded with the interaction")
	fs.BoolVar(&cfg.Pretty, "pretty", cfg.Pretty, "Pretty-print the JSON response")
	fs.BoolVar(&cfg.NoMusic, "no-music", false, "Do not start playback even when spotify is enabled")
	fs.BoolVar(&cfg.NoLLM, "no-llm", false, "Skip the generative model (semantic classification and fallback responses only)")
	fs.StringVar(&cfg.LogMode, "log-mode", "", "Logging mode override: development or production")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	// Trailing words are taken as the text when -text is not given.
	if cfg.Text == "" && fs.NArg() > 0 {
		cfg.Text = strings.Join(fs.Args(), " ")
	}
	cfg.Text = strings.TrimSpace(cfg.Text)
	return cfg, nil
}
