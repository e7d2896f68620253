package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mixq/internal/kernels"
	"github.com/samcharles93/mixq/internal/logger"
	"github.com/samcharles93/mixq/internal/network"
	"github.com/samcharles93/mixq/pkg/mqf"
)

func runCmd() *cli.Command {
	var (
		modelPath string
		inputPath string
		layerName string
		outPath   string
		repeat    int
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Run a packed network (or one layer) over a raw activation file",
		Flags: []cli.Flag{
			modelFlag(&modelPath),
			&cli.StringFlag{
				Name:        "input",
				Aliases:     []string{"i"},
				Usage:       "raw input activations (- for stdin)",
				Destination: &inputPath,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "layer",
				Aliases:     []string{"l"},
				Usage:       "run only this layer",
				Destination: &layerName,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "write raw output here instead of hex to stdout",
				Destination: &outPath,
			},
			&cli.IntFlag{
				Name:        "repeat",
				Usage:       "run this many times and report the mean time",
				Value:       1,
				Destination: &repeat,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			net, err := loadNetwork(modelPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			input, err := readInput(inputPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: read input: %v", err), 1)
			}

			eng := kernels.New(profile.Path)
			repeat = max(repeat, 1)
			var out []byte
			start := time.Now()
			for range repeat {
				if layerName != "" {
					out, err = net.RunLayer(ctx, eng, layerName, input)
				} else {
					out, err = net.Run(ctx, eng, input)
				}
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: run: %v", err), 1)
				}
			}
			elapsed := time.Since(start)

			log.Info("run complete",
				"network", net.Name,
				"layer", layerName,
				"engine", eng.Name(),
				"target", profile.String(),
				"bytes", len(out),
				"repeat", repeat,
				"mean", elapsed/time.Duration(repeat),
			)

			if outPath != "" {
				if err := os.WriteFile(outPath, out, 0o644); err != nil {
					return cli.Exit(fmt.Sprintf("error: write output: %v", err), 1)
				}
				return nil
			}
			fmt.Println(hex.EncodeToString(out))
			return nil
		},
	}
}

func loadNetwork(path string) (*network.Network, error) {
	mf, err := mqf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mqf: %w", err)
	}
	defer func() { _ = mf.Close() }()
	net, err := network.Load(mf, network.WithWorkers(workers))
	if err != nil {
		return nil, fmt.Errorf("load network: %w", err)
	}
	return net, nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
