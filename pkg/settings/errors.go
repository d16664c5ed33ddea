package settings

import (
	"fmt"
	"strings"
)

// MissingKeyError reports an absent required key along with the lookup
// chain so operators can fix the configuration without reading source.
type MissingKeyError struct {
	Key    string
	Prefix string
	Files  []string
}

func (e *MissingKeyError) Error() string {
	envKey := e.Prefix + "_" + strings.ToUpper(strings.ReplaceAll(e.Key, ".", "__"))
	var b strings.Builder
	fmt.Fprintf(&b, "setting %q not found in configuration\n", e.Key)
	fmt.Fprintf(&b, "  1. define it in one of: %s\n", strings.Join(e.Files, ", "))
	fmt.Fprintf(&b, "     example: %s: value\n", e.Key)
	fmt.Fprintf(&b, "  2. or export it with the %q prefix\n", e.Prefix)
	fmt.Fprintf(&b, "     example: export %s=value\n", envKey)
	b.WriteString("  3. check for typos in the setting name\n")
	b.WriteString("if the setting is optional, use a typed accessor with a default instead")
	return b.String()
}
