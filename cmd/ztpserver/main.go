package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/HerbHall/ztpserver/internal/version"
)

var (
	configPath   string
	tokenSubject string
	tokenTTL     time.Duration

	rootCmd = &cobra.Command{
		Use:           "ztpserver",
		Short:         "Zero-touch provisioning server for network switches",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the provisioning HTTP server",
		RunE:  runServe, // serve.go
	}

	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Validate neighbordb and the definitions it references",
		RunE:  runCheck, // check.go
	}

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the event stream",
		RunE:  runToken, // token.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Info())
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "cli", "subject recorded in the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime, 0 for no expiry")
	rootCmd.AddCommand(serveCmd, checkCmd, tokenCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ztpserver: %v\n", err)
		os.Exit(1)
	}
}
