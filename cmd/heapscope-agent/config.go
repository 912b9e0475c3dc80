package main

import (
	"os"

	"github.com/naoina/toml"
)

// Config is the bootstrap configuration loaded before any observation
// begins: where to listen, and whether to run the process-internal heap
// under the real Windows detour or the in-memory fake provider used for
// local development and non-Windows builds. This is distinct from
// heap.Configuration, the runtime trace-depth knobs an operator sets at
// any time over the wire protocol (SetConfiguration).
type Config struct {
	TCP struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
	} `toml:"tcp"`

	NamedPipe struct {
		Enabled bool   `toml:"enabled"`
		Name    string `toml:"name"`
	} `toml:"named_pipe"`

	Dev struct {
		FakeProvider bool `toml:"fake_provider"`
	} `toml:"dev"`

	LogLevel string `toml:"log_level"`
}

// defaultConfig matches spec.md §6: TCP enabled on 0.0.0.0:9940, named
// pipe enabled as "allocation-catcher".
func defaultConfig() Config {
	var c Config
	c.TCP.Enabled = true
	c.TCP.Addr = "0.0.0.0:9940"
	c.NamedPipe.Enabled = true
	c.NamedPipe.Name = "allocation-catcher"
	c.LogLevel = "info"
	return c
}

// loadConfig reads a TOML bootstrap file at path, falling back to
// defaultConfig if path is empty. Grounded on the teacher's use of
// github.com/naoina/toml for node configuration files.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
