package main

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/hkwi/nlink"
)

type Config struct {
	LogLevel string `yaml:"logLevel"`
	LogTime  bool   `yaml:"logTime"`
	Timeout  int    `yaml:"timeout"` // per query, in milliseconds; 0 waits forever

	Index uint32 `yaml:"index"`
	Name  string `yaml:"name"`

	Hub nlink.Config `yaml:"hub"`
}

var DefaultConfig = Config{
	LogLevel: "info",
	Timeout:  5000,
	Index:    1,
	Name:     "lo",
	Hub:      nlink.DefaultConfig,
}

func (c Config) String() string {
	m, err := yaml.MarshalWithOptions(c, yaml.Indent(2), yaml.IndentSequence(true))
	if err != nil {
		return "marshalling error..."
	}
	return string(m)
}

func (c *Config) UnmarshalYAML(b []byte) error {
	// Needed to break recursive calls into UnmarshalYAML
	type config Config

	def := config(DefaultConfig)

	if err := yaml.Unmarshal(b, &def); err != nil {
		return err
	}

	*c = Config(def)

	return nil
}

func (c Config) timeout() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// ReadConf loads path over DefaultConfig. An empty path yields the defaults.
func ReadConf(path string) (*Config, error) {
	if path == "" {
		conf := DefaultConfig
		return &conf, nil
	}

	r, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading the configuration file: %w", err)
	}

	conf := Config{}
	if err := yaml.Unmarshal(r, &conf); err != nil {
		return nil, fmt.Errorf("error unmarshaling the configuration: %w", err)
	}

	if _, ok := logLevelMap[conf.LogLevel]; !ok {
		return nil, fmt.Errorf("unknown log level %q", conf.LogLevel)
	}

	return &conf, nil
}
