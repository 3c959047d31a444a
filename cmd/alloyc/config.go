package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is alloyc's alloy.yaml project configuration, the Go-native
// counterpart of the compiler's configuration surface: provider wiring
// packages, manifests to ingest, the configured lazy-service set, and
// output locations.
type Config struct {
	PackageName string `yaml:"packageName"`
	ModulePath  string `yaml:"modulePath"`
	SourceDir   string `yaml:"sourceDir"`
	OutputDir   string `yaml:"outputDir"`
	DeclDir     string `yaml:"declDir"`

	Manifests    []string `yaml:"manifests"`
	Providers    []string `yaml:"providers"`
	LazyServices []string `yaml:"lazyServices"`

	// Manifest-emitter settings for `alloyc manifest emit`.
	Emit EmitConfig `yaml:"emit"`
}

// EmitConfig configures the manifest emitter.
type EmitConfig struct {
	PackageName string   `yaml:"packageName"`
	BuildMode   string   `yaml:"buildMode"`
	OutputFile  string   `yaml:"outputFile"`
	Providers   []string `yaml:"providers"`
}

func defaultConfig() Config {
	return Config{
		PackageName: "generated",
		SourceDir:   ".",
		OutputDir:   "./generated",
		DeclDir:     "./generated",
		Emit: EmitConfig{
			BuildMode:  "preserve-modules",
			OutputFile: "alloy.manifest.yaml",
		},
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("alloyc: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("alloyc: parse %s: %w", path, err)
	}
	return cfg, nil
}
