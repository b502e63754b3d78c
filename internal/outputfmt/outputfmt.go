// Package outputfmt renders structured values for the terminal.
package outputfmt

import (
	"encoding/json"
	"strings"
)

// JSON renders v as indented JSON without HTML escaping.
func JSON(v any) (string, error) {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}
