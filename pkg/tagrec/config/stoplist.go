package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/tagrec/pkg/tagrec/analysis"
	"github.com/cognicore/tagrec/pkg/tagrec/internalerr"
)

// Stoplist represents the stopword list configuration
type Stoplist struct {
	Terms []string `yaml:"terms"`
}

// LoadStoplist loads stopwords from a YAML file
func LoadStoplist(path string) (*Stoplist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var sl Stoplist
	if err := yaml.Unmarshal(data, &sl); err != nil {
		return nil, err
	}

	return &sl, nil
}

// Analyzer builds the analyzer described by the analysis section.
func (c *Config) Analyzer() (*analysis.Analyzer, error) {
	var opts []analysis.Option
	if c.Analysis.StoplistPath != "" {
		sl, err := LoadStoplist(c.Analysis.StoplistPath)
		if err != nil {
			return nil, fmt.Errorf("load stoplist: %w", err)
		}
		opts = append(opts, analysis.WithStopwords(sl.Terms))
	}
	if c.Analysis.Stem {
		opts = append(opts, analysis.WithStemming())
	}
	if c.Analysis.StripHTML {
		opts = append(opts, analysis.WithHTMLStripping())
	}
	return analysis.New(opts...), nil
}

// RequireFile fails unless path names a readable regular file.
func RequireFile(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("input file %q: %w: %v", path, internalerr.ErrInvalidConfig, err)
	}
	if !st.Mode().IsRegular() {
		return fmt.Errorf("input file %q is not a regular file: %w", path, internalerr.ErrInvalidConfig)
	}
	return nil
}

// RequireDir fails unless path is a directory or can be created as one.
func RequireDir(path string) error {
	if path == "" {
		return fmt.Errorf("output directory is required: %w", internalerr.ErrInvalidConfig)
	}
	st, err := os.Stat(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create output directory %q: %w: %v", path, internalerr.ErrInvalidConfig, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("output directory %q: %w: %v", path, internalerr.ErrInvalidConfig, err)
	}
	if !st.IsDir() {
		return fmt.Errorf("output path %q is not a directory: %w", path, internalerr.ErrInvalidConfig)
	}
	return nil
}
