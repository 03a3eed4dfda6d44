package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/midfuzz/midfuzz/internal/config"
	"github.com/midfuzz/midfuzz/internal/logging"
	"github.com/midfuzz/midfuzz/internal/orchestrator"
	"github.com/midfuzz/midfuzz/internal/schema"
	"github.com/midfuzz/midfuzz/internal/supervisor"
	"github.com/midfuzz/midfuzz/internal/target"
)

type runFlags struct {
	rosDir    string
	configPath string
	inputType string
	launchArgs []string
	outputDir string
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Discover a target's interface surface and fuzz it continuously",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMain(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVarP(&f.rosDir, "ros-dir", "r", "", "install directory carrying the node cache and catalogs")
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().StringVarP(&f.inputType, "input-type", "i", "", "substring tag selecting the interface catalog profile")
	cmd.Flags().StringSliceVarP(&f.launchArgs, "args", "a", nil, "launch command for the node under test, e.g. -a ros2,launch,demo,demo.launch.py")
	cmd.Flags().StringVarP(&f.outputDir, "output-dir", "o", "", "workdir for logs, corpus, crash artifacts, and csv exports")
	_ = cmd.MarkFlagRequired("ros-dir")
	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("input-type")
	_ = cmd.MarkFlagRequired("args")
	_ = cmd.MarkFlagRequired("output-dir")
	return cmd
}

func runMain(ctx context.Context, f runFlags) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if len(f.launchArgs) > 0 {
		cfg.Target.LaunchArgs = f.launchArgs
	}
	if cfg.Fuzz.CatalogRoot == "" {
		cfg.Fuzz.CatalogRoot = filepath.Join(f.rosDir, "catalogs")
	}
	if cfg.Fuzz.InstallDir == "" {
		cfg.Fuzz.InstallDir = f.rosDir
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.New(logging.Config{Level: cfg.Framework.LogLevel, Pretty: cfg.Framework.LogFormat != "json"}, os.Stderr)

	if err := os.MkdirAll(f.outputDir, 0o755); err != nil {
		return fmt.Errorf("mkdir output dir: %w", err)
	}
	shmDir := cfg.Shm.Dir
	if shmDir == "" {
		shmDir = filepath.Join(f.outputDir, "shm")
	}
	if err := os.MkdirAll(shmDir, 0o755); err != nil {
		return fmt.Errorf("mkdir shm dir: %w", err)
	}

	cat, err := schema.Load(cfg.Fuzz.CatalogRoot, f.inputType)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	t := target.New(strings.Join(cfg.Target.LaunchArgs, " "), shmDir, cat)
	rng := rand.New(rand.NewSource(1))
	if err := t.LoadNodeCache(cfg.Fuzz.InstallDir, rng); err != nil {
		return fmt.Errorf("load node cache: %w", err)
	}

	cli := target.NewExecCLI(cfg.Target.CLIBinary)
	fresh, err := target.Discover(ctx, cli, t, rng)
	if err != nil {
		return fmt.Errorf("discover nodes: %w", err)
	}
	if err := t.AppendNodeCache(cfg.Fuzz.InstallDir, fresh); err != nil {
		return fmt.Errorf("append node cache: %w", err)
	}
	logger.Info("discovery complete", "nodes", len(t.Nodes), "fresh", len(fresh))

	sup := supervisor.New(supervisor.Config{
		LaunchArgs: cfg.Target.LaunchArgs,
		Xvfb:       cfg.Target.Xvfb,
		ShmDir:     shmDir,
		WorkDir:    f.outputDir,
	}, logger)
	if err := sup.Boot(ctx); err != nil {
		return fmt.Errorf("boot target: %w", err)
	}

	globals := orchestrator.NewGlobals(shmDir)
	orc := orchestrator.New(orchestrator.Config{WorkDir: f.outputDir, ShmDir: shmDir}, globals, sup, t, logger, 2)

	go func() {
		<-ctx.Done()
		globals.Stop()
	}()

	if err := orc.RunWithReporter(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("fuzz loop: %w", err)
	}
	return sup.Kill()
}
