// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command configgen emits the first-run setup files: a config.json holding
// every runtime setting default (importable through the admin API), an
// example rules file, and a .env.example documenting the SO_* environment.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ManuGH/streamops/internal/config"
	"github.com/ManuGH/streamops/internal/guard"
	"github.com/ManuGH/streamops/internal/rules"
)

const envExample = `# StreamOps environment. Copy to .env next to the daemon binary or export
# in the service unit. Every key is optional; the value shown is the default.

# Data root. Everything the daemon persists lives below this directory.
#SO_DATA=/data

# Logging. Levels: trace, debug, info, warn, error.
#SO_LOG_LEVEL=info
#SO_LOG_PRETTY=false

# Listeners. The admin API serves /api/v1 plus the health probes; metrics
# serves Prometheus on a separate port. Empty SO_METRICS_LISTEN disables it.
#SO_LISTEN=:8591
#SO_METRICS_LISTEN=:9090
#SO_MAX_CONNS=256

# Media toolchain.
#SO_FFMPEG_BIN=ffmpeg
#SO_FFPROBE_BIN=ffprobe
#SO_FFMPEG_KILL_TIMEOUT=5s

# Job processing.
#SO_WORKERS=4
#SO_DB_BUSY_TIMEOUT=5s
#SO_SHUTDOWN_TIMEOUT=10s

# Probe result cache: badger, memory or off.
#SO_PROBE_CACHE=badger

# External recording flag via Redis. Leave SO_REDIS_ADDR empty to use the
# recording_active config setting instead.
#SO_REDIS_ADDR=
#SO_REDIS_PASSWORD=
#SO_REDIS_DB=0

# OpenTelemetry tracing.
#SO_OTEL_ENABLED=false
#SO_OTEL_EXPORTER=grpc
#SO_OTEL_ENDPOINT=localhost:4317
#SO_OTEL_SAMPLE_RATE=1.0
#SO_ENVIRONMENT=production
`

func main() {
	outDir := flag.String("out", ".", "directory the files are written into")
	force := flag.Bool("force", false, "overwrite files that already exist")
	flag.Parse()

	if err := os.MkdirAll(*outDir, 0o750); err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}

	files := []struct {
		name   string
		render func() ([]byte, error)
	}{
		{"config.json", config.DefaultExportJSON},
		{"rules.example.json", renderExampleRules},
		{".env.example", func() ([]byte, error) { return []byte(envExample), nil }},
	}

	exit := 0
	for _, f := range files {
		path := filepath.Join(*outDir, f.name)
		if _, err := os.Stat(path); err == nil && !*force {
			fmt.Printf("skip   %s (exists, use -force to overwrite)\n", path)
			continue
		}

		data, err := f.render()
		if err != nil {
			fmt.Fprintf(os.Stderr, "configgen: render %s: %v\n", f.name, err)
			exit = 1
			continue
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "configgen: write %s: %v\n", path, err)
			exit = 1
			continue
		}
		fmt.Printf("wrote  %s\n", path)
	}
	os.Exit(exit)
}

// renderExampleRules emits one realistic rule per common workflow. Each
// document is ready for POST /api/v1/rules.
func renderExampleRules() ([]byte, error) {
	examples := []rules.Rule{
		{
			Name:     "archive finished recordings",
			Priority: 10,
			Enabled:  true,
			Trigger:  rules.Trigger{Type: "file_closed", PathGlob: "/watch/recordings/*"},
			Conditions: []rules.Condition{
				{Field: "file.extension", Op: rules.OpIn, Value: []any{".mkv", ".ts"}},
				{Field: "file.size", Op: rules.OpGt, Value: 10 * 1024 * 1024},
			},
			Actions: []rules.Action{
				{Type: "remux", Params: map[string]any{"container": "mp4", "faststart": true, "remove_original": true}},
				{Type: "move", Params: map[string]any{"target": "/library/{year}/{month}/{filename}"}},
				{Type: "thumbnail", Params: map[string]any{"sprite_count": 16}},
			},
		},
		{
			Name:     "edit proxies for camera cards",
			Priority: 5,
			Enabled:  false,
			Trigger:  rules.Trigger{Type: "file_closed"},
			Conditions: []rules.Condition{
				{Field: "file.extension", Op: rules.OpEq, Value: ".mov"},
			},
			Actions: []rules.Action{
				{Type: "copy", Params: map[string]any{"target": "/backup/{year}/{month}/{day}/"}},
				{Type: "proxy", Params: map[string]any{"profile": "dnxhr_lb", "resolution": "720"}},
			},
			Guardrails: exampleGuardrails(),
		},
	}

	data, err := json.MarshalIndent(examples, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func exampleGuardrails() guard.Overrides {
	cpu := 70
	pause := true
	return guard.Overrides{CPUPct: &cpu, PauseWhenRecording: &pause}
}
