// Package cli implements the asyncfs command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "asyncfs",
	Short: "POSIX filesystem adapter over asynchronous backing stores",
	Long: `asyncfs mounts a POSIX-style filesystem whose storage lives in an
external, asynchronous, handle-based backing store. Supported stores:

  s3://bucket   objects in an S3 bucket
  mem://        an in-process store, useful for scratch mounts and testing`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
