package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

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
	now, _ := cfg.ReportTime()

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

	report, err := buildReport(ctx, cfg, svcCfg, log, now)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	if cfg.OutPath == "-" {
		_, err = os.Stdout.Write(report)
	} else {
		err = fileutils.WriteFileAtomicSameDir(cfg.OutPath, report, 0o644)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func buildReport(ctx context.Context, cfg Config, svcCfg *config.Config, log *logging.Logger, now time.Time) ([]byte, error) {
	app, err := bootstrap.OpenLearning(ctx, svcCfg, log)
	if err != nil {
		return nil, err
	}
	defer app.Close()

	records, err := app.Learning.Interactions(ctx)
	if err != nil {
		return nil, err
	}
	return renderReport(records, now, cfg.Format, cfg.Recent)
}

func renderReport(records []assistant.InteractionRecord, now time.Time, format string, recent int) ([]byte, error) {
	ins := assistant.AnalyzeInteractions(records, now)
	if format == "json" {
		b, err := json.MarshalIndent(ins, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal insights: %w", err)
		}
		return append(b, '\n'), nil
	}
	return []byte(assistant.RenderInsightsMarkdown(ins, recent)), nil
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)
	fs.StringVar(&cfg.ConfigPath, "config", "", "Optional YAML config file (env JARVIS_* overrides it)")
	fs.StringVar(&cfg.OutPath, "out", cfg.OutPath, "Report path, or - for stdout")
	fs.StringVar(&cfg.Format, "format", cfg.Format, "Report format: markdown or json")
	fs.IntVar(&cfg.Recent, "recent", cfg.Recent, "Rows in the recent interactions table (0 = default)")
	fs.StringVar(&cfg.Now, "now", "", "Report time as RFC3339 (default: current time)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
