package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alloyhq/alloy/internal/codegen"
	"github.com/alloyhq/alloy/internal/discovery"
	"github.com/alloyhq/alloy/internal/manifest"
	"github.com/alloyhq/alloy/internal/model"
)

// generateCmd performs a one-shot scan-and-codegen pass over the
// configured source tree: walk sources into the discovery store, ingest
// configured manifests, emit the wiring package and identifier table.
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Scan annotated sources and emit a generated wiring package",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		return runGenerate(cmd, cfg)
	},
}

func runGenerate(cmd *cobra.Command, cfg Config) error {
	store := discovery.New()
	if err := scanTree(store, cfg.SourceDir); err != nil {
		return fmt.Errorf("alloyc generate: scan: %w", err)
	}

	services := store.Services()
	deferredKeys := store.DeferredKeys()
	providers := append([]string(nil), cfg.Providers...)

	manifests, err := loadManifests(cfg.Manifests)
	if err != nil {
		return err
	}
	ingested := manifest.Ingest(manifests, services)
	for _, diag := range ingested.Diagnostics {
		fmt.Fprintf(cmd.ErrOrStderr(), "alloyc: %s: %s: %s\n", diag.Severity, diag.Source, diag.Message)
	}
	services = append(services, ingested.Services...)
	for k := range ingested.DeferredKeys {
		deferredKeys[k] = struct{}{}
	}
	providers = append(providers, ingested.Providers...)

	out, err := codegen.Generate(services, deferredKeys, codegen.Options{
		PackageName:      cfg.PackageName,
		ModulePath:       cfg.ModulePath,
		LazyServices:     cfg.LazyServices,
		ProviderPackages: providers,
	})
	if err != nil {
		return fmt.Errorf("alloyc generate: %w", err)
	}

	if err := writeFile(cfg.OutputDir, "alloy_gen.go", out.Module); err != nil {
		return fmt.Errorf("alloyc generate: %w", err)
	}
	declDir := cfg.DeclDir
	if declDir == "" {
		declDir = cfg.OutputDir
	}
	if err := writeFile(declDir, "service_identifiers.go", out.TypeDecl); err != nil {
		return fmt.Errorf("alloyc generate: %w", err)
	}
	return nil
}

func scanTree(store *discovery.Store, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		src, readErr := os.ReadFile(path)
		if readErr != nil {
			return readErr
		}
		_, _, _, _, scanErr := store.Update(path, src)
		return scanErr
	})
}

func loadManifests(paths []string) ([]model.Manifest, error) {
	manifests := make([]model.Manifest, 0, len(paths))
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("alloyc generate: read manifest %s: %w", p, err)
		}
		m, err := manifest.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("alloyc generate: decode manifest %s: %w", p, err)
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}

func writeFile(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
