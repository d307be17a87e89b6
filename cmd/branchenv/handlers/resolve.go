package handlers

import (
	"fmt"
	"io"
	"os"

	"github.com/imamik/branchenv/internal/config"
	"github.com/imamik/branchenv/internal/render"
	"github.com/imamik/branchenv/internal/util/naming"
)

// output receives command results (for testing injection).
var output io.Writer = os.Stdout

// Resolve prints the environment identifier of a branch.
//
// The naming settings of the config file are used when one is given or found;
// otherwise the default resolver applies.
func Resolve(configPath, branch string) error {
	resolver := naming.Resolver{}
	cfg, err := loadOptionalConfig(configPath)
	if err != nil {
		return err
	}
	if cfg != nil {
		resolver = resolverFor(cfg)
	}

	id, err := resolver.Resolve(branch)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(output, id)
	return err
}

// Render prints the resources a branch's environment would be created from,
// without contacting the cluster.
func Render(configPath, branch string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	id, err := resolverFor(cfg).Resolve(branch)
	if err != nil {
		return err
	}

	base, err := cfg.ReadTemplate()
	if err != nil {
		return err
	}

	spec, err := render.Template{Base: base, Overrides: cfg.Template.Overrides}.Render(id, branch)
	if err != nil {
		return err
	}

	manifest, err := spec.Manifest()
	if err != nil {
		return fmt.Errorf("failed to serialize resources: %w", err)
	}
	_, err = output.Write(manifest)
	return err
}

// loadOptionalConfig is loadConfig, except that a missing default config
// file yields nil.
func loadOptionalConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		if _, err := findConfigFile(); err != nil {
			return nil, nil
		}
	}
	return loadConfig(configPath)
}
