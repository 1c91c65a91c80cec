package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	json "github.com/goccy/go-json"

	"github.com/theimaginaryfoundation/jarvis/assistant"
	"github.com/theimaginaryfoundation/jarvis/bootstrap"
	"github.com/theimaginaryfoundation/jarvis/config"
	"github.com/theimaginaryfoundation/jarvis/logging"
)

// summary is what the tool prints on stdout after a build.
type summary struct {
	FromCache bool                  `json:"from_cache"`
	Passages  int                   `json:"passages"`
	Warnings  []string              `json:"warnings,omitempty"`
	Stats     assistant.CorpusStats `json:"stats"`
}

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

	svcCfg, err := config.Load(cfg.ConfigPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	log, err := logging.New(svcCfg.Logging.Mode, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, err := run(ctx, svcCfg, log, cfg.Force)
	for _, w := range sum.Warnings {
		fmt.Fprintln(os.Stderr, "warning:", w)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	if err := writeSummary(os.Stdout, sum, cfg.Pretty); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, svcCfg *config.Config, log *logging.Logger, force bool) (summary, error) {
	if log == nil {
		log = logging.Nop()
	}
	app, err := bootstrap.Build(ctx, svcCfg, log, bootstrap.Options{SkipLLM: true, SkipPlayer: true})
	if err != nil {
		return summary{}, err
	}
	defer app.Close()

	rep, err := app.Index.Build(ctx, force)
	sum := summary{FromCache: rep.FromCache, Passages: rep.Passages, Warnings: rep.Warnings}
	if err != nil {
		return sum, err
	}
	sum.Stats = app.Index.Stats()
	log.Info("corpus indexed", "passages", rep.Passages, "from_cache", rep.FromCache, "model", sum.Stats.Model)
	return sum, nil
}

func writeSummary(w io.Writer, sum summary, pretty bool) error {
	var b []byte
	var err error
	if pretty {
		b, err = json.MarshalIndent(sum, "", "  ")
	} else {
		b, err = json.Marshal(sum)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)
	fs.StringVar(&cfg.ConfigPath, "config", "", "Optional YAML config file (env JARVIS_* overrides it)")
	fs.BoolVar(&cfg.Force, "force", false, "Re-embed the corpus even when the cached index is valid")
	fs.BoolVar(&cfg.Pretty, "pretty", cfg.Pretty, "Pretty-print the JSON summary")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
