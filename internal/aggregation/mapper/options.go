package mapper

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed options.yaml
var defaultOptionsYAML []byte

// FieldOptions is the canonical dropdown list of one field plus its curated aliases.
type FieldOptions struct {
	Options []string          `yaml:"options"`
	Aliases map[string]string `yaml:"aliases"`
}

// CategoryOptions holds the field tables of one solution category and an
// optional override of the human-rating transition threshold.
type CategoryOptions struct {
	TransitionThreshold int                     `yaml:"transition_threshold"`
	Fields              map[string]FieldOptions `yaml:"fields"`
}

// Options is the full configuration document.
type Options struct {
	CommonFields map[string]FieldOptions    `yaml:"common_fields"`
	Categories   map[string]CategoryOptions `yaml:"categories"`
}

// DefaultOptions parses the embedded tables.
func DefaultOptions() (*Options, error) {
	return ParseOptions(defaultOptionsYAML)
}

// LoadOptions reads tables from path, or the embedded defaults when path is empty.
func LoadOptions(path string) (*Options, error) {
	if path == "" {
		return DefaultOptions()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read field options %q: %w", path, err)
	}
	return ParseOptions(raw)
}

func ParseOptions(raw []byte) (*Options, error) {
	var opts Options
	if err := yaml.Unmarshal(raw, &opts); err != nil {
		return nil, fmt.Errorf("parse field options: %w", err)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &opts, nil
}

// validate rejects aliases that point outside their option list; such an
// alias would create a bucket no dropdown can ever produce.
func (o *Options) validate() error {
	check := func(scope, field string, fo FieldOptions) error {
		allowed := make(map[string]struct{}, len(fo.Options))
		for _, opt := range fo.Options {
			allowed[opt] = struct{}{}
		}
		for alias, target := range fo.Aliases {
			if _, ok := allowed[target]; !ok {
				return fmt.Errorf("field options: %s.%s alias %q targets unknown option %q", scope, field, alias, target)
			}
		}
		return nil
	}
	for field, fo := range o.CommonFields {
		if err := check("common_fields", field, fo); err != nil {
			return err
		}
	}
	for cat, co := range o.Categories {
		if co.TransitionThreshold < 0 {
			return fmt.Errorf("field options: category %q has negative transition_threshold", cat)
		}
		for field, fo := range co.Fields {
			if err := check(cat, field, fo); err != nil {
				return err
			}
		}
	}
	return nil
}
