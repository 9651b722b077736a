package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings are the tool-level defaults, loadable from an optional YAML
// file. Per-job options and CLI flags override them.
type Settings struct {
	Connections int    `yaml:"connections"`
	OutputDir   string `yaml:"output_dir"`
	StateDir    string `yaml:"state_dir"`
	UserAgent   string `yaml:"user_agent"`
	ListenAddr  string `yaml:"listen_addr"`
	LogFile     string `yaml:"log_file"`
}

// Default returns the built-in settings.
func Default() *Settings {
	return &Settings{
		Connections: 8,
		OutputDir:   ".",
		ListenAddr:  "127.0.0.1:4444",
	}
}

// Load reads settings from path. A missing file yields the defaults; a
// present but unparsable file is an error.
func Load(path string) (*Settings, error) {
	s := Default()
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	if s.Connections < 1 {
		s.Connections = Default().Connections
	}
	if s.OutputDir == "" {
		s.OutputDir = Default().OutputDir
	}
	if s.ListenAddr == "" {
		s.ListenAddr = Default().ListenAddr
	}
	return s, nil
}
