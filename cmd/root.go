package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ValentinKolb/geoKV/cmd/index"
	"github.com/ValentinKolb/geoKV/cmd/lock"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "geokv",
		Short: "geohash spatial index on embedded key-value stores",
		Long: fmt.Sprintf(`geoKV (v%s)

A spatial index that buckets application values by geohash cell and stores
them in an embedded key-value backend (memory, sqlite, bolt or pebble).`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of geoKV",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("geoKV v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(index.IndexCommands)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
// An interrupt cancels the command context, so that waiting for a lock stops.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := RootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
