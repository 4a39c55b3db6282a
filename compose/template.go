package compose

import "regexp"

var placeholder = regexp.MustCompile(`\{(\w+)\}`)

// Render replaces each {name} in template with data[name]. Unknown
// placeholders are kept verbatim and substituted values are not re-expanded.
func Render(template string, data map[string]string) string {
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		if v, ok := data[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}
