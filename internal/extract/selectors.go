package extract

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

//go:embed selectors.yaml
var defaultSelectors []byte

// AttrText reads an element's text content instead of an attribute
const AttrText = "text"

var ErrInvalidChain = errors.New("invalid selector chain")

// Selector reads one value from the first element matching CSS
type Selector struct {
	CSS  string `yaml:"css" json:"css"`
	Attr string `yaml:"attr" json:"attr"`
	// Pattern, when set, keeps only its first capture group (or the whole match)
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`

	re *regexp.Regexp
}

// Chain lists the ordered fallbacks for every extracted field
type Chain struct {
	VideoURL  []Selector `yaml:"video_url" json:"video_url"`
	Thumbnail []Selector `yaml:"thumbnail" json:"thumbnail"`
	Caption   []Selector `yaml:"caption" json:"caption"`
	Username  []Selector `yaml:"username" json:"username"`
}

// DefaultChain returns the built-in selector chain
func DefaultChain() *Chain {
	chain, err := ParseChain(defaultSelectors)
	if err != nil {
		panic(fmt.Sprintf("embedded selectors: %v", err))
	}
	return chain
}

// LoadChain reads a selector chain from a YAML file, or returns the
// built-in chain when path is empty
func LoadChain(path string) (*Chain, error) {
	if path == "" {
		return DefaultChain(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read selectors: %w", err)
	}
	return ParseChain(data)
}

// ParseChain decodes and validates a YAML selector chain
func ParseChain(data []byte) (*Chain, error) {
	var chain Chain
	if err := yaml.Unmarshal(data, &chain); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChain, err)
	}
	if len(chain.VideoURL) == 0 {
		return nil, fmt.Errorf("%w: video_url needs at least one selector", ErrInvalidChain)
	}

	for _, field := range chain.fields() {
		for i := range *field.selectors {
			sel := &(*field.selectors)[i]
			if sel.CSS == "" || sel.Attr == "" {
				return nil, fmt.Errorf("%w: %s[%d] needs css and attr", ErrInvalidChain, field.name, i)
			}
			if _, err := parseSelector(sel.CSS); err != nil {
				return nil, fmt.Errorf("%w: %s[%d]: %v", ErrInvalidChain, field.name, i, err)
			}
			if sel.Pattern != "" {
				re, err := regexp.Compile(sel.Pattern)
				if err != nil {
					return nil, fmt.Errorf("%w: %s[%d] pattern: %v", ErrInvalidChain, field.name, i, err)
				}
				sel.re = re
			}
		}
	}
	return &chain, nil
}

type chainField struct {
	name      string
	selectors *[]Selector
}

// fields returns the chain in bridge argument order
func (c *Chain) fields() []chainField {
	return []chainField{
		{"video_url", &c.VideoURL},
		{"thumbnail", &c.Thumbnail},
		{"caption", &c.Caption},
		{"username", &c.Username},
	}
}

// apply narrows a raw value through the selector's pattern
func (s Selector) apply(v string) string {
	if s.re == nil || v == "" {
		return v
	}
	m := s.re.FindStringSubmatch(v)
	switch {
	case m == nil:
		return ""
	case len(m) > 1:
		return m[1]
	default:
		return m[0]
	}
}
