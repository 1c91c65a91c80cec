package main

import (
	"bytes"
	"flag"
	"strings"
	"testing"

	"github.com/theimaginaryfoundation/jarvis/assistant"
)

func TestParseFlags_Overrides(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("jarvis", flag.ContinueOnError)
	cfg, err := parseFlags(fs, []string{
		"-config", "jarvis.yaml",
		"-text", "  I feel stuck  ",
		"-session", "abc",
		"-pretty=false",
		"-no-music",
		"-no-llm",
		"-log-level", "debug",
	})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.ConfigPath != "jarvis.yaml" || cfg.SessionID != "abc" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.Text != "I feel stuck" {
		t.Fatalf("Text=%q", cfg.Text)
	}
	if cfg.Pretty || !cfg.NoMusic || !cfg.NoLLM || cfg.LogLevel != "debug" {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestParseFlags_TrailingArgsAsText(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("jarvis", flag.ContinueOnError)
	cfg, err := parseFlags(fs, []string{"-no-music", "today", "was", "hard"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.Text != "today was hard" {
		t.Fatalf("Text=%q", cfg.Text)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_RequiresText(t *testing.T) {
	t.Parallel()

	if err := defaultConfig().Validate(); err == nil || !strings.Contains(err.Error(), "-text") {
		t.Fatalf("err=%v", err)
	}
}

func TestWriteResponse(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	resp := assistant.Response{Status: assistant.StatusSuccess, Emotion: "calm", Stages: []assistant.Stage{assistant.StageStart}}
	if err := writeResponse(&buf, resp, false); err != nil {
		t.Fatalf("writeResponse: %v", err)
	}
	out := buf.String()
	if !strings.HasSuffix(out, "\n") || !strings.Contains(out, `"emotion":"calm"`) || strings.Contains(out, "\n  ") {
		t.Fatalf("out=%q", out)
	}
}
