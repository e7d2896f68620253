package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mixq/pkg/mqf"
)

type sectionView struct {
	Type    string `json:"type"`
	Version uint32 `json:"version"`
	Offset  uint64 `json:"offset"`
	Size    uint64 `json:"size"`
}

type inspectReport struct {
	Path     string         `json:"path"`
	Size     int64          `json:"size"`
	Major    uint16         `json:"major"`
	Minor    uint16         `json:"minor"`
	Sections []sectionView  `json:"sections"`
	Model    *mqf.ModelInfo `json:"model,omitempty"`
	Tensors  []mqf.Tensor   `json:"tensors"`
}

func inspectCmd() *cli.Command {
	var (
		modelPath    string
		asJSON       bool
		showSections bool
		showTensors  bool
		tensorFilter string
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect the contents of an .mqf container",
		Flags: []cli.Flag{
			modelFlag(&modelPath),
			&cli.BoolFlag{Name: "json", Usage: "print a JSON report", Destination: &asJSON},
			&cli.BoolFlag{Name: "sections", Usage: "show section directory", Destination: &showSections},
			&cli.BoolFlag{Name: "tensors", Usage: "list tensor index", Destination: &showTensors},
			&cli.StringFlag{Name: "tensor-filter", Usage: "substring filter for tensor listing", Destination: &tensorFilter},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			stat, err := os.Stat(modelPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: stat model path %q: %v", modelPath, err), 1)
			}
			mf, err := mqf.Open(modelPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open mqf: %v", err), 1)
			}
			defer func() { _ = mf.Close() }()

			report := inspectReport{
				Path:    modelPath,
				Size:    stat.Size(),
				Major:   mf.Header.Major,
				Minor:   mf.Header.Minor,
				Tensors: mf.Tensors(),
			}
			for _, s := range mf.Sections {
				report.Sections = append(report.Sections, sectionView{
					Type: s.Type.String(), Version: s.Version, Offset: s.Offset, Size: s.Size,
				})
			}
			info, err := mf.ModelInfo()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			report.Model = info

			if asJSON {
				out, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: encode report: %v", err), 1)
				}
				fmt.Println(string(out))
				return nil
			}

			fmt.Printf("MQF Inspect: %s\n", modelPath)
			fmt.Printf("File: %s (%s)\n", filepath.Base(modelPath), formatBytes(uint64(stat.Size())))
			fmt.Printf("MQF Header: v%d.%d sections=%d header=%dB\n",
				mf.Header.Major, mf.Header.Minor, mf.Header.SectionCount, mf.Header.HeaderSize)

			printModel(info)
			if showSections {
				printSectionDirectory(report.Sections)
			}
			if showTensors {
				printTensorIndex(report.Tensors, tensorFilter)
			}
			return nil
		},
	}
}

func printModel(info *mqf.ModelInfo) {
	section("Model")
	row("name", info.Name)
	row("producer", info.Producer)
	row("layers", fmt.Sprint(len(info.Layers)))

	section("Layers")
	for _, l := range info.Layers {
		var detail string
		switch l.Kind {
		case "depthwise":
			detail = fmt.Sprintf("k=%d s=%d pad=%d,%d,%d,%d", l.Kernel, l.Stride,
				l.Padding.Left, l.Padding.Right, l.Padding.Top, l.Padding.Bottom)
		default:
			detail = l.Layout
		}
		requant := "thresholds"
		if l.Fold != nil {
			requant = fmt.Sprintf("fold(mult=%d shift=%d zero=%d)", l.Fold.Mult, l.Fold.Shift, l.Fold.ZeroOut)
		}
		fmt.Printf("%-16s %-10s dim=%-4d ch=%d->%d %-24s zin=%d zw=%d %s\n",
			l.Name, l.Kind, l.Dim, l.InChannels, l.OutChannels, detail, l.ZeroIn, l.ZeroW, requant)
	}
}

func printSectionDirectory(sections []sectionView) {
	section("Sections")
	for _, s := range sections {
		fmt.Printf("%-16s v%-2d off=%-10d size=%s\n", s.Type, s.Version, s.Offset, formatBytes(s.Size))
	}
}

func printTensorIndex(tensors []mqf.Tensor, filter string) {
	section("Tensors")
	for _, t := range tensors {
		if filter != "" && !strings.Contains(t.Name, filter) {
			continue
		}
		fmt.Printf("%-32s %-4s elems=%-8d off=%-10d size=%s\n", t.Name, t.DType, t.Elems, t.Offset, formatBytes(t.Size))
	}
}

func section(title string) {
	line := strings.Repeat("-", len(title)+8)
	fmt.Printf("\n%s\n--- %s ---\n%s\n", line, title, line)
}

func row(label, value string) {
	if value == "" {
		return
	}
	fmt.Printf("%-24s %s\n", label+":", value)
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GiB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MiB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KiB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
