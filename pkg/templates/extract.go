package templates

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
)

// placeholderPattern matches the fixed {{name}} delimiter syntax used by
// template content and operator-facing report templates alike.
var placeholderPattern = regexp.MustCompile(`\{\{(.*?)\}\}`)

// ExtractVariables scans template content for variable placeholders and
// returns the distinct names, sorted. Scanning identical content always
// yields the identical set.
func ExtractVariables(content string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(content, -1)
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		name := strings.TrimSpace(m[1])
		if name == "" {
			continue
		}
		seen[name] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render substitutes every occurrence of each replacement's placeholder with
// its value. Placeholders with no replacement are left in place, mirroring
// the extraction syntax exactly.
func Render(content string, replacements map[string]string) string {
	if len(replacements) == 0 {
		return content
	}
	pairs := make([]string, 0, len(replacements)*2)
	for name, value := range replacements {
		pairs = append(pairs, "{{"+name+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(content)
}

// ContentHash fingerprints template content so the indexer can recognise a
// byte-identical re-upload without comparing bodies.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
