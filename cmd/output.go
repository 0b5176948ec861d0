package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// parseKeyValues turns repeated key=value flags into a map. A later
// occurrence of a key wins.
func parseKeyValues(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid pair %q, expected key=value", pair)
		}
		out[key] = value
	}
	return out, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
