package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mixq/internal/logger"
	"github.com/samcharles93/mixq/internal/target"
	"github.com/samcharles93/mixq/internal/version"
)

func main() {
	app := &cli.Command{
		Name:    "mixq",
		Usage:   "Mixed-precision quantized convolution kernels for Cortex-M targets",
		Version: version.String(),
		Flags:   globalFlags(),
		Before:  setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			packCmd(),
			inspectCmd(),
			runCmd(),
			serveCmd(),
			cpuCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup applies the config file, installs the logger and resolves the
// target once for every command.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg := LoadConfig()
	applyGlobalConfig(cmd, cfg)

	log, err := logger.Open(os.Stderr, logFormat, logLevel)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}

	core, err := target.ParseCore(coreName)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	profile, err = target.Resolve(target.Config{Core: core, BigEndian: bigEndian})
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	log.Debug("target resolved", "profile", profile.String(), "workers", workers)
	return logger.WithContext(ctx, log), nil
}
