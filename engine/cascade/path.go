package cascade

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

// placeholders returns the keys referenced by a path template in order.
func placeholders(tmpl string) []string {
	var keys []string
	for _, m := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
		keys = append(keys, m[1])
	}
	return keys
}

// renderPath substitutes every placeholder with the percent-encoded selection
// of that field. Slashes and spaces inside values are escaped so multi-word
// vehicle types stay a single path segment.
func renderPath(tmpl string, sel map[string]string) (string, error) {
	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := m[1 : len(m)-1]
		v := sel[key]
		if v == "" {
			missing = append(missing, key)
			return m
		}
		return url.PathEscape(v)
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("path %s: no selection for %s", tmpl, strings.Join(missing, ", "))
	}
	return out, nil
}

// renderText substitutes every placeholder with the raw selection of that
// field.
func renderText(tmpl string, sel map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		return sel[m[1:len(m)-1]]
	})
}
