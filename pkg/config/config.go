// Package config loads YAML configuration files.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at the given path into conf.
//
// Unknown keys are rejected. If expandEnv is true, references to ${VAR} or
// $VAR in the file are replaced with the corresponding environment variable.
// A default can be given using form ${VAR:default}.
func Load(path string, conf interface{}, expandEnv bool) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %s: %w", path, err)
	}

	if expandEnv {
		buf = []byte(os.Expand(string(buf), expandVar))
	}

	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)

	if err := dec.Decode(conf); err != nil {
		return fmt.Errorf("parse config: %s: %w", path, err)
	}

	return nil
}

func expandVar(name string) string {
	name, defaultValue, _ := strings.Cut(name, ":")
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return defaultValue
}
