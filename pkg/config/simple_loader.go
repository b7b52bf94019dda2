package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML file into config after environment substitution.
func Load(filePath string, config interface{}) error {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data, config)
}

// Parse decodes YAML content after environment substitution. Unknown keys are
// rejected so a misspelled option does not silently fall back to its default.
func Parse(data []byte, config interface{}) error {
	dec := yaml.NewDecoder(strings.NewReader(substituteEnvVars(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// LoadExtract loads, defaults and validates an extraction job file.
func LoadExtract(filePath string) (*ExtractConfig, error) {
	cfg := &ExtractConfig{}
	if err := Load(filePath, cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job %s: %w", filePath, err)
	}
	return cfg, nil
}

// Save writes config as YAML, readable only by the owner since DSNs may hold
// credentials.
func Save(filePath string, config interface{}) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// substituteEnvVars expands ${NAME} and ${NAME:-default}. An unset NAME
// without a default expands to the empty string; an unterminated reference
// is left as is.
func substituteEnvVars(content string) string {
	var sb strings.Builder
	sb.Grow(len(content))

	for {
		start := strings.Index(content, "${")
		if start < 0 {
			break
		}
		end := strings.IndexByte(content[start:], '}')
		if end < 0 {
			break
		}
		end += start

		sb.WriteString(content[:start])
		name, def, hasDefault := strings.Cut(content[start+2:end], ":-")
		if v, ok := os.LookupEnv(name); ok && (v != "" || !hasDefault) {
			sb.WriteString(v)
		} else {
			sb.WriteString(def)
		}
		content = content[end+1:]
	}
	sb.WriteString(content)
	return sb.String()
}
