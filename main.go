// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"spectrogram/cmd"
	applog "spectrogram/internal/log"
	"spectrogram/pkg/build"
)

// main runs the command line until it returns or the process receives
// SIGINT/SIGTERM. Commands own their sessions and tear them down before
// returning, so the signal only cancels the context.
func main() {
	// Development builds have no ldflags; the module information fills in.
	if err := build.Initialize(); err != nil {
		applog.Debugf("build: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		stop()
		applog.Fatalf("%v", err)
	}
}
