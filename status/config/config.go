package config

import (
	"fmt"
	"net/url"

	"github.com/spf13/pflag"
)

type NodeConfig struct {
	// URL is the node admin URL.
	URL string `json:"url"`
}

func (c *NodeConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("missing url")
	}
	if _, err := url.Parse(c.URL); err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	return nil
}

func (c *NodeConfig) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(
		&c.URL,
		"node.url",
		"http://localhost:8002",
		`
Node admin URL. This URL should point to the node admin port.
`,
	)
}

type Config struct {
	Node NodeConfig `json:"node"`
}

func (c *Config) Validate() error {
	if err := c.Node.Validate(); err != nil {
		return fmt.Errorf("node: %w", err)
	}
	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	c.Node.RegisterFlags(fs)
}
