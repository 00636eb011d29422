package textutil

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

func policy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// plainEntities undoes the escaping the policy applies to harmless characters.
// &lt; and &gt; stay encoded so that no markup survives.
var plainEntities = strings.NewReplacer("&amp;", "&", "&#39;", "'", "&#34;", `"`)

// Sanitize strips every HTML element from free text and collapses runs of whitespace.
func Sanitize(value string) string {
	cleaned := plainEntities.Replace(policy().Sanitize(value))
	return strings.Join(strings.Fields(cleaned), " ")
}

// NormalizeList sanitises entries, drops empty ones and removes case-insensitive duplicates
// while keeping the first spelling.
func NormalizeList(values []string) []string {
	if len(values) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		cleaned := Sanitize(value)
		if cleaned == "" {
			continue
		}
		key := strings.ToLower(cleaned)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, cleaned)
	}
	return result
}
