// Package urlrewrite implements ordered URL rewrite rules. Rules come from
// the primary suite's descriptor first, then from the MX_URLREWRITES
// environment variable, and are consulted in that order: the first rule
// whose pattern matches a URL rewrites it, later rules are ignored.
package urlrewrite

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"suitebuild/internal/ctxlog"
	"suitebuild/internal/descriptor"
)

// EnvVar names the environment variable carrying extra rewrite rules, either
// as a JSON object/array or as the path of a file containing one.
const EnvVar = "MX_URLREWRITES"

// Rule rewrites URLs matching Pattern using Replacement, which may refer to
// capture groups with $1, $2, ...
type Rule struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// Rules is an ordered rule list.
type Rules struct {
	rules []Rule
}

// New compiles the declared rules in order.
func New(decls []*descriptor.URLRewriteDecl) (*Rules, error) {
	r := &Rules{}
	for _, d := range decls {
		if err := r.add(d.Pattern, d.Replacement); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Rules) add(pattern, replacement string) error {
	// Anchored so only full-URL matches rewrite, whichever alternative the
	// leftmost-first search would otherwise settle on.
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return fmt.Errorf("urlrewrite pattern %q: %w", pattern, err)
	}
	r.rules = append(r.rules, Rule{Pattern: re, Replacement: replacement})
	return nil
}

// Len returns the number of registered rules.
func (r *Rules) Len() int { return len(r.rules) }

// Extend appends every rule of other after the already-registered ones,
// preserving both orders. A nil other is a no-op.
func (r *Rules) Extend(other *Rules) {
	if other == nil {
		return
	}
	r.rules = append(r.rules, other.rules...)
}

// Apply rewrites url with the first matching rule. The URL is returned
// unchanged when no rule matches. Only full-URL matches rewrite.
func (r *Rules) Apply(url string) string {
	for _, rule := range r.rules {
		if rule.Pattern.MatchString(url) {
			return rule.Pattern.ReplaceAllString(url, rule.Replacement)
		}
	}
	return url
}

// envRule is the JSON form of one rewrite rule: a single-entry object
// mapping the pattern to its attributes.
type envRule map[string]struct {
	Replacement string `json:"replacement"`
}

// AppendFromEnv appends rules denoted by the named environment variable
// after the already-registered ones. An unset or empty variable is a no-op.
func (r *Rules) AppendFromEnv(ctx context.Context, name string) error {
	logger := ctxlog.FromContext(ctx)

	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return nil
	}

	// A value not starting with a JSON delimiter names a file.
	if value[0] != '{' && value[0] != '[' {
		raw, err := os.ReadFile(value)
		if err != nil {
			return fmt.Errorf("reading rewrite rules file from $%s: %w", name, err)
		}
		value = strings.TrimSpace(string(raw))
	}

	var entries []envRule
	if strings.HasPrefix(value, "{") {
		var single envRule
		if err := json.Unmarshal([]byte(value), &single); err != nil {
			return fmt.Errorf("parsing rewrite rule from $%s: %w", name, err)
		}
		entries = append(entries, single)
	} else {
		if err := json.Unmarshal([]byte(value), &entries); err != nil {
			return fmt.Errorf("parsing rewrite rules from $%s: %w", name, err)
		}
	}

	for _, entry := range entries {
		if len(entry) != 1 {
			return fmt.Errorf("rewrite rule from $%s must be an object with a single pattern entry", name)
		}
		for pattern, attrs := range entry {
			if attrs.Replacement == "" {
				return fmt.Errorf("rewrite rule %q from $%s is missing a replacement", pattern, name)
			}
			if err := r.add(pattern, attrs.Replacement); err != nil {
				return err
			}
			logger.Debug("Registered rewrite rule from environment.", "pattern", pattern)
		}
	}
	return nil
}
