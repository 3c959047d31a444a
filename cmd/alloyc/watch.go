package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alloyhq/alloy/internal/bundleradapter"
	"github.com/alloyhq/alloy/internal/codegen"
	"github.com/alloyhq/alloy/internal/discovery"
)

// watchCmd runs the bundler adapter standalone: watch the source tree,
// keep the discovery store fresh, and regenerate the wiring package on
// every change. This is how the compiler is exercised without a host build
// system driving it.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch sources and regenerate the wiring package on change",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		return runWatch(cmd, cfg)
	},
}

func runWatch(cmd *cobra.Command, cfg Config) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("alloyc watch: logger: %w", err)
	}
	defer logger.Sync()

	store := discovery.New()
	adapter, err := bundleradapter.New(cfg.SourceDir, store, codegen.Options{
		PackageName:      cfg.PackageName,
		ModulePath:       cfg.ModulePath,
		LazyServices:     cfg.LazyServices,
		ProviderPackages: cfg.Providers,
	}, logger)
	if err != nil {
		return fmt.Errorf("alloyc watch: %w", err)
	}
	defer adapter.Close()

	adapter.OnBuildStart()
	if err := adapter.Watch(); err != nil {
		return fmt.Errorf("alloyc watch: %w", err)
	}

	regen := func() {
		module, loadErr := adapter.OnLoad(cfg.DeclDir)
		if loadErr != nil {
			logger.Warn("regeneration failed", zap.Error(loadErr))
			return
		}
		if writeErr := writeFile(cfg.OutputDir, "alloy_gen.go", module); writeErr != nil {
			logger.Warn("write failed", zap.Error(writeErr))
		}
	}
	regen()

	adapter.OnChange(regen)
	go adapter.Run()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	fmt.Fprintln(cmd.OutOrStdout(), "alloyc: watch stopped")
	return nil
}
