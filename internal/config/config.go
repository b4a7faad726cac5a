// Package config loads the repository manager configuration from a
// YAML file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config describes the managed release trees and the upstream sources
// feeding the cache.
type Config struct {
	// Root of the release trees (testing, stable, ...).
	Root string `yaml:"root"`
	// CacheRoot holds the local mirror of the upstream build output.
	CacheRoot string `yaml:"cacheRoot"`
	// Releases names the promotion channels in order, cache excluded.
	Releases []string `yaml:"releases"`

	// Upstream is the rsync source spec the cache is mirrored from.
	Upstream string `yaml:"upstream"`
	// Jenkins is the base URL of the build server's JSON API.
	Jenkins string `yaml:"jenkins"`

	// Label names the repositories in generated metadata.
	Label string `yaml:"label"`

	// OSNames restricts the managed OS releases; empty means all
	// found in the trees. ExcludeOSNames is applied afterwards.
	OSNames        []string `yaml:"osNames"`
	ExcludeOSNames []string `yaml:"excludeOSNames"`

	Ownership OwnershipConfig `yaml:"ownership"`
}

// OwnershipConfig is the uid/gid applied to directories created in
// the release trees. Zero values leave ownership untouched.
type OwnershipConfig struct {
	UID int `yaml:"uid"`
	GID int `yaml:"gid"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Root:      "/var/www/repo",
		CacheRoot: "/var/cache/yarm",
		Releases:  []string{"unstable", "testing", "stable"},
		Label:     "Packages",
	}
}

// Load reads the configuration file at path over the defaults. A
// missing file yields the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if len(cfg.Releases) == 0 {
		return nil, fmt.Errorf("config %s: releases must not be empty", path)
	}
	return cfg, nil
}

// ManagedOS reports whether the OS release is in scope under the
// include and exclude lists.
func (c *Config) ManagedOS(osName string) bool {
	if len(c.OSNames) > 0 {
		found := false
		for _, n := range c.OSNames {
			if n == osName {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, n := range c.ExcludeOSNames {
		if n == osName {
			return false
		}
	}
	return true
}
