package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"
)

// EncodedName derives the published file name from the input path:
// "<stem> [<quality>p] [<branding>].mkv". Quality or branding are omitted
// when zero or empty.
func EncodedName(inputPath string, quality int, branding string) string {
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = strings.TrimSpace(stem)
	if stem == "" || stem == "." {
		stem = "output"
	}
	var b strings.Builder
	b.WriteString(stem)
	if quality > 0 {
		fmt.Fprintf(&b, " [%dp]", quality)
	}
	if branding = strings.TrimSpace(branding); branding != "" {
		fmt.Fprintf(&b, " [%s]", branding)
	}
	b.WriteString(".mkv")
	return b.String()
}
