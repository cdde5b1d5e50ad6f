package storage

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var unsafeSegment = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// ReportObjectPath composes reports/orders/YYYY/MM/DD/<id>.<ext>.
func ReportObjectPath(kind string, generatedAt time.Time, id, ext string) (string, error) {
	kind = cleanSegment(kind)
	id = cleanSegment(id)
	ext = cleanSegment(strings.TrimPrefix(ext, "."))
	if kind == "" || id == "" || ext == "" {
		return "", fmt.Errorf("storage: kind, id and extension are required")
	}
	if generatedAt.IsZero() {
		return "", fmt.Errorf("storage: generation time is required")
	}
	return fmt.Sprintf("reports/%s/%s/%s.%s", kind, generatedAt.UTC().Format("2006/01/02"), id, ext), nil
}

func cleanSegment(value string) string {
	return strings.Trim(unsafeSegment.ReplaceAllString(strings.TrimSpace(value), "-"), "-")
}
