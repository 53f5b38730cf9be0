// mautrix-imessage - A Matrix-iMessage puppeting bridge.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package config loads the YAML configuration for the undelete core,
// following pkg/connector/config.go's IMConfig/umIMConfig/PostProcess
// pattern (SPEC_FULL.md §A.2) for decode-time defaulting and validation.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config is the core's full runtime configuration.
type Config struct {
	DBPath          string `yaml:"db_path"`
	Platform        string `yaml:"platform"`
	BackupPassword  string `yaml:"backup_password"`
	AttachmentRoot  string `yaml:"attachment_root"`
	ExportRoot      string `yaml:"export_root"`
	PollIntervalMS  int    `yaml:"poll_interval_ms"`

	SelectedChatIDs   []int64 `yaml:"selected_chat_ids"`
	SelectedHandleIDs []int64 `yaml:"selected_handle_ids"`
	Limit             int     `yaml:"limit"`
}

type umConfig Config

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	if err := node.Decode((*umConfig)(c)); err != nil {
		return err
	}
	return c.PostProcess()
}

// PostProcess fills in defaults not expressible as plain YAML zero values.
func (c *Config) PostProcess() error {
	if c.PollIntervalMS <= 0 {
		c.PollIntervalMS = 500
	}
	if c.ExportRoot == "" {
		c.ExportRoot = "./export"
	}
	switch c.Platform {
	case "", "macos", "ios":
	default:
		return fmt.Errorf("config: unknown platform %q (want \"macos\", \"ios\", or empty)", c.Platform)
	}
	return nil
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
