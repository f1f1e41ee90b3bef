package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sarkari-pulse",
	Short: "sarkari-pulse scrapes government scheme portals into a searchable store.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("SP_CONFIG"), "Path to configuration file (defaults are used when empty)")
	rootCmd.AddCommand(serveCmd, scrapeCmd, exportCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
