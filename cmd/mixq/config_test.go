package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v3"
)

func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "core: cortex-m7\nworkers: 3\nbig_endian: false\nlog_level: debug\nserver_address: 0.0.0.0:9000\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := loadConfigFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Core != "cortex-m7" || cfg.Workers == nil || *cfg.Workers != 3 || cfg.BigEndian == nil || *cfg.BigEndian {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.LogFormat != "" || cfg.ServerAddress != "0.0.0.0:9000" {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	if _, err := loadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("missing file should fail")
	}
	empty, err := loadConfigFile("")
	if err != nil || empty.Workers != nil {
		t.Fatalf("empty path: %+v, %v", empty, err)
	}
}

// Flags set on the command line win over the config file.
func TestApplyGlobalConfigRespectsFlags(t *testing.T) {
	three := 3
	cfg := Config{Core: "cortex-m7", Workers: &three, LogLevel: "debug"}

	var gotCore, gotLevel string
	var gotWorkers int
	cmd := &cli.Command{
		Name:  "mixq",
		Flags: globalFlags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			applyGlobalConfig(c, cfg)
			gotCore, gotWorkers, gotLevel = coreName, workers, logLevel
			return nil
		},
	}
	if err := cmd.Run(context.Background(), []string{"mixq", "--core", "m33"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if gotCore != "m33" {
		t.Fatalf("core = %q, want flag value m33", gotCore)
	}
	if gotWorkers != 3 || gotLevel != "debug" {
		t.Fatalf("config not applied: workers=%d level=%q", gotWorkers, gotLevel)
	}
}
