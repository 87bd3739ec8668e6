package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ChemResponse-Chain/internal/cli"
	"ChemResponse-Chain/pkg/logger"
)

// Version 在构建时通过 ldflags 注入。
var Version = "dev"

// main 是 chemresponse 命令的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cli.SetVersion(Version)
	err := cli.Execute(ctx)
	stop()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
