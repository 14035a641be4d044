// Command lazyprobe hammers a lazy cell or registry with concurrent callers
// and prints what happened as JSON: how many times factories ran, how many
// distinct values callers saw, and how long it took.
//
//	lazyprobe cell --goroutines 1000 --delay 50ms --failures 2
//	lazyprobe registry --keys 16 --goroutines 200 --churn 500
//	lazyprobe --config probe.yaml --metrics-addr :9090 registry --linger 30s
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// overridden during build with ldflags
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
