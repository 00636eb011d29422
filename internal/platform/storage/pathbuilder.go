package storage

import (
	"fmt"
	"path"
	"strings"
)

// quoteLogoPrefix is where every B2B logo lands; lifecycle rules on the
// bucket key off it.
const quoteLogoPrefix = "b2b/quotes"

// QuoteLogoPath returns b2b/quotes/<quote>/logos/<upload>/<file>. Each part
// must be a single path segment.
func QuoteLogoPath(quoteID, uploadID, fileName string) (string, error) {
	segments := []struct{ label, value string }{
		{"quoteID", quoteID},
		{"uploadID", uploadID},
		{"fileName", fileName},
	}
	clean := make([]string, len(segments))
	for i, seg := range segments {
		v, err := objectSegment(seg.label, seg.value)
		if err != nil {
			return "", err
		}
		clean[i] = v
	}
	return path.Join(quoteLogoPrefix, clean[0], "logos", clean[1], clean[2]), nil
}

func objectSegment(label, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", fmt.Errorf("storage: %s is required", label)
	case strings.ContainsAny(value, `/\`):
		return "", fmt.Errorf("storage: %s contains invalid path characters", label)
	case strings.Contains(value, ".."):
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", label)
	}
	return value, nil
}
