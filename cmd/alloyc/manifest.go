package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/alloyhq/alloy/internal/discovery"
	"github.com/alloyhq/alloy/internal/manifest"
	"github.com/alloyhq/alloy/internal/model"
)

// manifestCmd groups the manifest-emitter variant of the compiler.
var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Library-manifest tooling",
}

var manifestEmitCmd = &cobra.Command{
	Use:   "emit",
	Short: "Scan annotated sources and emit an alloy.manifest.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		return runManifestEmit(cmd, cfg)
	},
}

func runManifestEmit(cmd *cobra.Command, cfg Config) error {
	store := discovery.New()
	if err := scanTree(store, cfg.SourceDir); err != nil {
		return fmt.Errorf("alloyc manifest emit: scan: %w", err)
	}

	pkgName := cfg.Emit.PackageName
	if pkgName == "" {
		pkgName = cfg.ModulePath
	}

	raw, err := manifest.Emit(store.Services(), manifest.EmitOptions{
		PackageName: pkgName,
		BuildMode:   model.BuildMode(cfg.Emit.BuildMode),
		Providers:   cfg.Emit.Providers,
	})
	if err != nil {
		return fmt.Errorf("alloyc manifest emit: %w", err)
	}

	dir, name := filepath.Split(cfg.Emit.OutputFile)
	if dir == "" {
		dir = "."
	}
	if err := writeFile(dir, name, raw); err != nil {
		return fmt.Errorf("alloyc manifest emit: %w", err)
	}

	companion := manifest.EmitIdentifiers(store.Services(), cfg.PackageName)
	if err := writeFile(dir, "alloy_identifiers.go", companion); err != nil {
		return fmt.Errorf("alloyc manifest emit: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "alloyc: wrote %s (%d services)\n", cfg.Emit.OutputFile, len(store.Services()))
	return nil
}

func init() {
	manifestCmd.AddCommand(manifestEmitCmd)
}
