package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Question is one prompt of the interactive init flow.
type Question struct {
	Key     string
	Prompt  string
	Default string
}

// Questions returns the prompts for the fields a run cannot do without,
// with c's current values as defaults.
func (c *Config) Questions() []Question {
	return []Question{
		{Key: "input", Prompt: "Installation to derive variants from", Default: c.Input},
		{Key: "output", Prompt: "Output directory", Default: c.Output},
		{Key: "generator", Prompt: "Solver jar", Default: c.Generator},
		{Key: "variants", Prompt: "Number of variants", Default: strconv.Itoa(c.Variants)},
		{Key: "time", Prompt: "Solver time budget (seconds)", Default: strconv.Itoa(c.Time)},
	}
}

// Set assigns an answer to the field named key. Empty answers keep the
// current value.
func (c *Config) Set(key, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	switch key {
	case "input":
		c.Input = value
	case "output":
		c.Output = value
	case "generator":
		c.Generator = value
	case "java":
		c.Java = value
	case "variants", "time", "workers":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		switch key {
		case "variants":
			c.Variants = n
		case "time":
			c.Time = n
		default:
			c.Workers = n
		}
	case "keep_only_metadata", "only_statistics":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		if key == "keep_only_metadata" {
			c.KeepOnlyMetadata = b
		} else {
			c.OnlyStatistics = b
		}
	default:
		return fmt.Errorf("config: unknown key %q", key)
	}
	return nil
}
