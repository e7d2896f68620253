package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mixq/internal/logger"
	"github.com/samcharles93/mixq/internal/network"
	"github.com/samcharles93/mixq/pkg/mqf"
)

func packCmd() *cli.Command {
	var (
		descPath string
		outPath  string
	)

	return &cli.Command{
		Name:  "pack",
		Usage: "Pack a YAML layer description into an .mqf container",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "layers",
				Aliases:     []string{"l"},
				Usage:       "path to the YAML layer description",
				Destination: &descPath,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output .mqf path",
				Value:       "model.mqf",
				Destination: &outPath,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			data, err := os.ReadFile(descPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: read model description: %v", err), 1)
			}
			desc, err := parseModelDesc(data)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			b, err := desc.builder()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if err := b.WriteFile(outPath); err != nil {
				return cli.Exit(fmt.Sprintf("error: write %s: %v", outPath, err), 1)
			}

			net, err := verifyPacked(outPath)
			if err != nil {
				_ = os.Remove(outPath)
				return cli.Exit(fmt.Sprintf("error: packed model does not load: %v", err), 1)
			}
			var size int64
			if st, err := os.Stat(outPath); err == nil {
				size = st.Size()
			}
			log.Info("packed model",
				"path", outPath,
				"name", net.Name,
				"layers", len(net.Layers()),
				"tensors", b.Len(),
				"in", net.In().String(),
				"out", net.Out().String(),
				"bytes", size,
			)
			return nil
		},
	}
}

// verifyPacked reopens a freshly written container and builds its network.
func verifyPacked(path string) (*network.Network, error) {
	mf, err := mqf.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = mf.Close() }()
	return network.Load(mf)
}
