package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"vpc-mesh/pkg/app"
	"vpc-mesh/pkg/config"
	"vpc-mesh/pkg/version"
)

// cli carries the persistent flags and the configuration resolved from them.
type cli struct {
	configPath string
	logLevel   string
	provider   string

	cfg config.Config
}

func (c *cli) load(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = c.logLevel
	}
	if cmd.Flags().Changed("provider") {
		cfg.Provider = c.provider
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

// open builds the application from the loaded configuration. Callers close it.
func (c *cli) open(ctx context.Context) (*app.App, error) {
	return app.New(ctx, c.cfg, os.Stderr)
}

func newRoot() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "meshctl",
		Short:         "Build and inspect a full-mesh of peered VPCs across regions",
		Version:       version.Build,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd)
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", os.Getenv("MESH_CONFIG"), "Path to the YAML config file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error, critical)")
	root.PersistentFlags().StringVar(&c.provider, "provider", config.DefaultProvider, "Control plane provider (aws, fake)")

	root.AddCommand(
		upCmd(c),
		provisionCmd(c),
		linkCmd(c),
		edgesCmd(c),
		verifyCmd(c),
		exportCmd(c),
		serveCmd(c),
		tokenCmd(c),
		hashPasswordCmd(),
		versionCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRoot().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorMsg("%v", err))
		stop()
		os.Exit(1)
	}
}
