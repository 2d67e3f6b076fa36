// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"
)

// runHealthcheckCLI backs `streamops healthcheck`, the container HEALTHCHECK
// entrypoint. It asks the local daemon for readiness or liveness and maps
// the answer onto the exit code.
func runHealthcheckCLI(args []string) int {
	fs := flag.NewFlagSet("healthcheck", flag.ExitOnError)
	mode := fs.String("mode", "ready", "probe mode: ready or live")
	addr := fs.String("addr", "127.0.0.1:8591", "admin API address")
	timeout := fs.Duration("timeout", 5*time.Second, "probe timeout")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "healthcheck: %v\n", err)
		return 1
	}

	path := "/readyz"
	if *mode == "live" {
		path = "/healthz"
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+*addr+path, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "healthcheck: %v\n", err)
		return 1
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "healthcheck: %s unreachable: %v\n", *addr, err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "healthcheck: %s returned %s\n", path, resp.Status)
		return 1
	}

	fmt.Printf("%s ok\n", path)
	return 0
}
