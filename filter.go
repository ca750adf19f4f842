package cmcd

import (
	"io"
	"os"
	"regexp"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// FilterConfig lists the patterns used to build a Filter. Both lists
// hold regular expressions that must match an entire metric name.
type FilterConfig struct {
	Blacklist []string `yaml:"blacklist"`
	Whitelist []string `yaml:"whitelist"`
}

// filterDocument accepts the allowlist/denylist spellings as well.
type filterDocument struct {
	Blacklist []string `yaml:"blacklist"`
	Whitelist []string `yaml:"whitelist"`
	Denylist  []string `yaml:"denylist"`
	Allowlist []string `yaml:"allowlist"`
}

// ReadFilterConfig decodes a filter configuration document.
func ReadFilterConfig(r io.Reader) (FilterConfig, error) {
	var doc filterDocument
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return FilterConfig{}, errors.Wrap(err, "problem decoding filter configuration")
	}

	return FilterConfig{
		Blacklist: append(doc.Blacklist, doc.Denylist...),
		Whitelist: append(doc.Whitelist, doc.Allowlist...),
	}, nil
}

// LoadFilterConfig reads the filter configuration file at path.
func LoadFilterConfig(path string) (FilterConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return FilterConfig{}, errors.Wrapf(err, "problem opening filter configuration '%s'", path)
	}
	defer f.Close()

	conf, err := ReadFilterConfig(f)
	return conf, errors.Wrapf(err, "reading '%s'", path)
}

// Filter decides which metric names are delivered. A whitelisted name
// is always accepted; otherwise a name is accepted unless it is
// blacklisted. The nil Filter accepts everything.
type Filter struct {
	blacklist []*regexp.Regexp
	whitelist []*regexp.Regexp
}

// NewFilter compiles the patterns of conf.
func NewFilter(conf FilterConfig) (*Filter, error) {
	black, err := compilePatterns(conf.Blacklist)
	if err != nil {
		return nil, errors.Wrap(err, "compiling blacklist")
	}

	white, err := compilePatterns(conf.Whitelist)
	if err != nil {
		return nil, errors.Wrap(err, "compiling whitelist")
	}

	return &Filter{blacklist: black, whitelist: white}, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(`^(?:` + p + `)$`)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid pattern '%s'", p)
		}
		out = append(out, re)
	}
	return out, nil
}

// Accept reports whether name should be delivered.
func (f *Filter) Accept(name string) bool {
	if f == nil {
		return true
	}

	if listed(name, f.whitelist) {
		return true
	}

	return !listed(name, f.blacklist)
}

func listed(name string, list []*regexp.Regexp) bool {
	for _, re := range list {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}
