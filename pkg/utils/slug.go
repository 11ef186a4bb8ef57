package utils

import (
	"github.com/gosimple/slug"
)

// NormalizeSlug creates a URL-friendly slug using the gosimple/slug library
// This handles all Unicode characters including Turkish, European, and other languages
func NormalizeSlug(text string) string {
	if text == "" {
		return ""
	}

	// Use gosimple/slug which handles all international characters properly
	return slug.Make(text)
}

// GenerateJobSlug creates a stable slug for a job name, used in log and
// metric labels where the raw human-facing name is too loose
func GenerateJobSlug(jobName string) string {
	if jobName == "" {
		return "job"
	}
	return NormalizeSlug(jobName)
}
