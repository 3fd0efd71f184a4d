package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Load reads the config file at path (YAML or JSON), overlays environment
// variables and validates the result. A missing file is not an error: the
// defaults plus environment are used instead.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		if err := loadFile(path, cfg); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
			log.WithField("path", path).Info("config file not found; using defaults")
		} else {
			log.WithField("path", path).Info("configuration loaded")
		}
	}
	applyEnv(cfg)
	cfg.normalize()

	res := cfg.Validate()
	for _, w := range res.Warnings {
		log.WithField("field", w.Field).Warn(w.Message)
	}
	if !res.Valid {
		return nil, res.Errors[0]
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
	}
	return nil
}

func (c *Config) normalize() {
	c.Server.BasePath = normalizePath(c.Server.BasePath)
	c.Proxy.Prefix = normalizePath(c.Proxy.Prefix)
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
}
