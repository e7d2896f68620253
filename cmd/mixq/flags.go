package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mixq/internal/target"
)

var (
	coreName  string
	bigEndian bool
	workers   int
	logLevel  string
	logFormat string

	// profile is resolved from the flags before any command runs.
	profile target.Profile
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "core",
			Usage:       "target core (auto, host, cortex-m0 ... cortex-m55)",
			Value:       "auto",
			Sources:     cli.EnvVars("MIXQ_CORE"),
			Destination: &coreName,
		},
		&cli.BoolFlag{
			Name:        "big-endian",
			Usage:       "target a big-endian core",
			Destination: &bigEndian,
		},
		&cli.IntFlag{
			Name:        "workers",
			Aliases:     []string{"j"},
			Usage:       "goroutines per layer (0 = GOMAXPROCS)",
			Destination: &workers,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
	}
}

func modelFlag(dst *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "model",
		Aliases:     []string{"m"},
		Usage:       "path to .mqf file",
		Destination: dst,
		Required:    true,
	}
}
