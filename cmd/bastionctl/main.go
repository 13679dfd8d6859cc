package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/BradenHooton/bastion/internal/cli"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if err := cli.NewRootCommand(cli.Open(logger), os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
