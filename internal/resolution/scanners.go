package resolution

import (
	"strings"

	"github.com/BKyryl/iesi/pkg/schema"
)

// Lookup returns the value bound to name.
type Lookup func(name string) (string, bool)

// ReplaceVariables expands #name# markers. A bound name replaces every
// occurrence of its marker; an unbound marker is left as written. An odd
// trailing # is literal text.
func ReplaceVariables(text string, lookup Lookup) string {
	from := 0
	for {
		sp, ok := nextSpan(text, from, "#", "#")
		if !ok {
			return text
		}
		value, found := lookup(sp.inner(text))
		if !found {
			from = sp.end
			continue
		}
		marker := sp.marker(text)
		text = text[:sp.start] + value + strings.ReplaceAll(text[sp.end:], marker, value)
		from = sp.start + len(value)
	}
}

// ReplaceAttributes expands [name] markers against attrs. Unresolved
// configuration markers ([#key#]) are skipped. Any other name missing from
// attrs is a configuration error.
func ReplaceAttributes(text string, attrs map[string]string) (string, error) {
	from := 0
	for {
		sp, ok := nextSpan(text, from, "[", "]")
		if !ok {
			return text, nil
		}
		name := sp.inner(text)
		if isConfigurationName(name) {
			from = sp.end
			continue
		}
		value, found := attrs[name]
		if !found {
			return "", schema.NewErrorf(schema.ErrCodeConfiguration, "attribute %q is not defined", name).
				WithDetails(map[string]any{"attribute": name})
		}
		marker := sp.marker(text)
		text = text[:sp.start] + value + strings.ReplaceAll(text[sp.end:], marker, value)
		from = sp.start + len(value)
	}
}

// ReplaceConfiguration expands [#key#] markers against framework settings.
// Unknown keys are left as written.
func ReplaceConfiguration(text string, settings map[string]string) string {
	from := 0
	for {
		sp, ok := nextSpan(text, from, "[#", "#]")
		if !ok {
			return text
		}
		value, found := settings[sp.inner(text)]
		if !found {
			from = sp.end
			continue
		}
		marker := sp.marker(text)
		text = text[:sp.start] + value + strings.ReplaceAll(text[sp.end:], marker, value)
		from = sp.start + len(value)
	}
}

func isConfigurationName(name string) bool {
	return len(name) >= 2 && strings.HasPrefix(name, "#") && strings.HasSuffix(name, "#")
}

// EnvironmentAttributes builds the attribute mapping of a component for env.
// Environment names compare trimmed and case-insensitively.
func EnvironmentAttributes(c schema.Component, env string) map[string]string {
	env = strings.TrimSpace(env)
	attrs := make(map[string]string, len(c.Attributes))
	for _, a := range c.Attributes {
		if strings.EqualFold(strings.TrimSpace(a.Environment), env) {
			attrs[a.Name] = a.Value
		}
	}
	return attrs
}
