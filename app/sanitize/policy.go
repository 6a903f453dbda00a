package sanitize

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy is the named configuration behind the sanitizer. Patterns use
// path.Match syntax and are compared case-insensitively.
type Policy struct {
	AllowedTags       []string            `yaml:"allowed_tags"`
	AllowedAttributes map[string][]string `yaml:"allowed_attributes"`
	// DropTags are removed together with their content; other disallowed
	// elements are unwrapped.
	DropTags       []string `yaml:"drop_tags"`
	TrackingParams []string `yaml:"tracking_params"`
	TrackingHosts  []string `yaml:"tracking_hosts"`
}

func DefaultPolicy() Policy {
	return Policy{
		AllowedTags: []string{
			"p", "br", "a", "strong", "em", "b", "i", "u", "s", "sub", "sup",
			"ul", "ol", "li", "blockquote", "pre", "code", "img",
			"h1", "h2", "h3", "h4", "h5", "h6",
			"div", "span", "figure", "figcaption",
			"table", "thead", "tbody", "tfoot", "tr", "th", "td",
			"hr", "dl", "dt", "dd",
		},
		AllowedAttributes: map[string][]string{
			"a":   {"href", "title"},
			"img": {"src", "alt", "title", "width", "height"},
			"th":  {"colspan", "rowspan"},
			"td":  {"colspan", "rowspan"},
		},
		DropTags: []string{
			"script", "style", "noscript", "template", "iframe", "object", "embed",
			"svg", "math", "form", "textarea", "select", "button", "head", "title",
		},
		TrackingParams: []string{
			"utm_*", "fbclid", "gclid", "dclid", "gclsrc", "msclkid", "yclid", "mc_cid", "mc_eid",
			"_hsenc", "_hsmi", "igshid", "mkt_tok", "ref",
		},
		TrackingHosts: []string{
			"pixel.*", "analytics.*", "tracking.*", "stats.*",
			"*.doubleclick.net", "feeds.feedburner.com", "*.google-analytics.com",
		},
	}
}

// LoadPolicy reads a YAML policy file. Keys missing from the file keep their
// defaults; an empty path returns DefaultPolicy.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read sanitizer policy: %w", err)
	}

	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("failed to parse sanitizer policy: %w", err)
	}

	if len(policy.AllowedTags) == 0 {
		return Policy{}, fmt.Errorf("sanitizer policy %s allows no tags", path)
	}

	return policy, nil
}
