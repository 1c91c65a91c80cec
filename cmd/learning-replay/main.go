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
	"github.com/theimaginaryfoundation/jarvis/assistant/fileutils"
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

	table, err := replay(ctx, cfg, svcCfg, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	if err := writeTable(cfg, table); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// replay rebuilds the preference table from the full interaction log and stores it,
// keeping a .bak copy of a file-backed table first.
func replay(ctx context.Context, cfg Config, svcCfg *config.Config, log *logging.Logger) (*assistant.PreferenceTable, error) {
	if cfg.Backup && svcCfg.Learning.Store == "file" {
		copied, err := fileutils.CopyFileIfExists(svcCfg.Learning.Path, svcCfg.Learning.Path+".bak", true)
		if err != nil {
			return nil, fmt.Errorf("backup preference table: %w", err)
		}
		if copied && log != nil {
			log.Info("backed up preference table", "path", svcCfg.Learning.Path+".bak")
		}
	}

	app, err := bootstrap.OpenLearning(ctx, svcCfg, log)
	if err != nil {
		return nil, err
	}
	defer app.Close()

	return app.Learning.LearnFromLog(ctx)
}

func writeTable(cfg Config, table *assistant.PreferenceTable) error {
	if cfg.OutPath != "" {
		return fileutils.WriteJSONFileAtomic(cfg.OutPath, table, cfg.Pretty)
	}
	return encodeTable(os.Stdout, table, cfg.Pretty)
}

func encodeTable(w io.Writer, table *assistant.PreferenceTable, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(table)
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)
	fs.StringVar(&cfg.ConfigPath, "config", "", "Optional YAML config file (env JARVIS_* overrides it)")
	fs.BoolVar(&cfg.Backup, "backup", cfg.Backup, "Copy a file-backed preference table to <path>.bak before replacing it")
	fs.StringVar(&cfg.OutPath, "out", "", "Write the rebuilt table to this path instead of stdout")
	fs.BoolVar(&cfg.Pretty, "pretty", cfg.Pretty, "Pretty-print JSON output")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
