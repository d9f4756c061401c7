//go:build !windows

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func enableANSI() {
	// Unix terminals support ANSI natively, nothing to do.
}

func registerSignals(stop, pause chan<- os.Signal) {
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	signal.Notify(pause, syscall.SIGUSR1)
}

func pauseHint() string {
	return fmt.Sprintf("kill -USR1 %d toggles pause", os.Getpid())
}
