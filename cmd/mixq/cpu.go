package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mixq/internal/kernels"
	"github.com/samcharles93/mixq/internal/target"
)

type cpuReport struct {
	Host    target.Host `json:"host"`
	Target  string      `json:"target"`
	Engine  string      `json:"engine"`
	Cores   []string    `json:"cores"`
	Workers int         `json:"workers"`
}

func cpuCmd() *cli.Command {
	var asJSON bool

	return &cli.Command{
		Name:  "cpu",
		Usage: "Print the host report and the resolved target",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print JSON", Destination: &asJSON},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			report := cpuReport{
				Host:    target.DetectHost(),
				Target:  profile.String(),
				Engine:  kernels.New(profile.Path).Name(),
				Cores:   target.Cores(),
				Workers: workers,
			}
			if asJSON {
				out, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: encode report: %v", err), 1)
				}
				fmt.Println(string(out))
				return nil
			}

			section("Host")
			row("os/arch", report.Host.GOOS+"/"+report.Host.GOARCH)
			row("cpus", fmt.Sprint(report.Host.NumCPU))
			row("big endian", fmt.Sprint(report.Host.BigEndian))
			row("features", strings.Join(report.Host.Features, ", "))
			section("Target")
			row("profile", report.Target)
			row("engine", report.Engine)
			row("workers", fmt.Sprint(report.Workers))
			row("cores", strings.Join(report.Cores, ", "))
			return nil
		},
	}
}
