package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/km-arc/modgraph/app"
	"github.com/km-arc/modgraph/framework/config"
)

var (
	envFile      string
	manifestPath string
	watch        bool
)

var rootCmd = &cobra.Command{
	Use:   "modgraph",
	Short: "Resolve a module graph of dependency-injection providers",
	Long: `modgraph scans a YAML module manifest, resolves the providers each
module can see at every scope and runs module extensions.

  modgraph check                # resolve once and print a summary
  modgraph serve --watch        # serve the admin API and hot-reload imports`,
	SilenceUsage: true,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Resolve the manifest once and print every module",
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.New(loadConfig(cmd), cmd.ErrOrStderr()).Check(cmd.Context(), cmd.OutOrStdout())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Bootstrap and serve the admin API until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return app.New(loadConfig(cmd), cmd.ErrOrStderr()).Serve(ctx)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file to load")
	rootCmd.PersistentFlags().StringVarP(&manifestPath, "manifest", "m", "", "module manifest (overrides MANIFEST_PATH)")
	serveCmd.Flags().BoolVar(&watch, "watch", false, "reload imports when the manifest changes (overrides MANIFEST_WATCH)")

	rootCmd.AddCommand(checkCmd, serveCmd)
}

func loadConfig(cmd *cobra.Command) *config.Config {
	cfg := config.Load(envFile)
	if cmd.Flags().Changed("manifest") {
		cfg.Manifest.Path = manifestPath
	}
	if cmd.Flags().Changed("watch") {
		cfg.Manifest.Watch = watch
	}
	return cfg
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
