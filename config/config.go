// Package config reads the TOML configuration of an export.
//
// A configuration file looks like
//
//	source = "/archive/incoming"
//	output = "/archive/outgoing"
//	parent = "fonds-12"
//	ledger = "/var/lib/sipexport/ledger.db"
//	status_port = "14001"
//
//	[rule]
//	strategy = "folder"
//	level = 2
//	metadata = "same"
//
//	[filters]
//	os_metadata = true
//	hidden = true
//	extensions = ["tmp", "bak"]
//
// Anything not given keeps the value from Default.
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/ndlib/sipexport/filter"
	"github.com/ndlib/sipexport/visitor"
)

// Config holds every setting of an export.
type Config struct {
	Source     string  `toml:"source"`      // directory to export
	Output     string  `toml:"output"`      // directory receiving the containers
	ParentID   string  `toml:"parent"`      // identifier every package is placed under
	Title      string  `toml:"title"`       // title of a single package export
	RateLimit  float64 `toml:"rate_limit"`  // bytes per second, 0 for no limit
	Ledger     string  `toml:"ledger"`      // ledger data source, see ledger.Open
	StatusPort string  `toml:"status_port"` // empty to not serve status
	SentryDSN  string  `toml:"sentry_dsn"`

	Rule    Rule    `toml:"rule"`
	Filters Filters `toml:"filters"`
}

// Rule decides how the source is split into packages.
type Rule struct {
	Strategy     string `toml:"strategy"` // "single", "file" or "folder"
	Level        int    `toml:"level"`    // 0 picks a level from the depth of the source
	Metadata     string `toml:"metadata"` // "none", "single", "same" or "diff"
	MetadataPath string `toml:"metadata_path"`
}

// Filters lists what is left out of the packages.
type Filters struct {
	OSMetadata  bool     `toml:"os_metadata"`
	Hidden      bool     `toml:"hidden"`
	Names       []string `toml:"names"`
	Extensions  []string `toml:"extensions"`
	Patterns    []string `toml:"patterns"`
	PatternFile string   `toml:"pattern_file"`
}

// Default returns the settings used when nothing else is given.
func Default() Config {
	return Config{
		Output: "sips",
		Rule: Rule{
			Strategy: "single",
			Metadata: "none",
		},
		Filters: Filters{
			OSMetadata: true,
		},
	}
}

// Load reads the TOML file at path on top of the defaults.
func Load(path string) (Config, error) {
	c := Default()
	_, err := toml.DecodeFile(path, &c)
	if err != nil {
		return c, errors.Wrap(err, "reading configuration")
	}
	return c, nil
}

// FilterSet builds the filters in f.
func (f Filters) FilterSet() (filter.Set, error) {
	var result filter.Set
	if f.OSMetadata {
		result = append(result, filter.OSMetadata())
	}
	if f.Hidden {
		result = append(result, filter.Hidden)
	}
	if len(f.Names) > 0 {
		result = append(result, filter.NewNames(f.Names...))
	}
	if len(f.Extensions) > 0 {
		result = append(result, filter.NewExtensions(f.Extensions...))
	}
	if len(f.Patterns) > 0 {
		result = append(result, filter.CompilePatterns(f.Patterns...))
	}
	if f.PatternFile != "" {
		p, err := filter.CompilePatternFile(f.PatternFile)
		if err != nil {
			return nil, errors.Wrap(err, "pattern file")
		}
		result = append(result, p)
	}
	return result, nil
}

// VisitorConfig returns the visitor settings for walking the source. A
// folder rule without a level gets one from the depth of the source.
func (c Config) VisitorConfig() (visitor.Config, error) {
	var result visitor.Config
	strategy, err := visitor.ParseStrategy(c.Rule.Strategy)
	if err != nil {
		return result, err
	}
	kind, err := visitor.ParseMetadataKind(c.Rule.Metadata)
	if err != nil {
		return result, err
	}
	filters, err := c.Filters.FilterSet()
	if err != nil {
		return result, err
	}
	result = visitor.Config{
		Strategy: strategy,
		Level:    c.Rule.Level,
		Filters:  filters,
		Metadata: visitor.MetadataSource{Kind: kind, Path: c.Rule.MetadataPath},
		ParentID: c.ParentID,
		Title:    c.Title,
	}
	if strategy == visitor.PerFolder && result.Level == 0 {
		depth, err := visitor.MaxDepth(c.Source)
		if err != nil {
			return result, err
		}
		result.Level = visitor.DefaultLevel(depth)
	}
	return result, result.Validate()
}
