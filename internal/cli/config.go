package cli

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds serve settings loadable from a YAML file.
// Flags given on the command line override config file values.
type Config struct {
	// Path is the directory the server exports. Every client path is
	// resolved inside it.
	Path string `yaml:"path"`

	// Listen is the TCP address to listen on (e.g. ":4155"). Empty with
	// Stdio false is an error.
	Listen string `yaml:"listen,omitempty"`

	// Stdio serves a single connection over stdin/stdout instead of TCP.
	Stdio bool `yaml:"stdio,omitempty"`

	// Readonly rejects every mutating verb with a permission failure.
	Readonly bool `yaml:"readonly,omitempty"`

	// DisableVFS turns off the raw file-access verbs, leaving only the
	// structured smart verbs.
	DisableVFS bool `yaml:"disable_vfs,omitempty"`

	// RootClientPath is the virtual root clients address the exported
	// directory under. Defaults to "/".
	RootClientPath string `yaml:"root_client_path,omitempty"`
}

// LoadConfig reads and parses a server config YAML file.
// Unknown fields are rejected to catch typos.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the config names a directory to serve and exactly
// one way to accept connections.
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("no directory to serve: set path")
	}
	if c.Stdio && c.Listen != "" {
		return fmt.Errorf("stdio and listen are mutually exclusive")
	}
	if !c.Stdio && c.Listen == "" {
		return fmt.Errorf("no way to accept connections: set listen or stdio")
	}
	return nil
}
