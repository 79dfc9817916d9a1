package common

import "regexp"

// FormatVariant is one concrete stream description as declared by the
// extractor. Height is 0 for audio-only streams.
type FormatVariant struct {
	ID        string `json:"id"`
	Container string `json:"container"`
	Height    int    `json:"height"`
	SizeBytes int64  `json:"size_bytes"`
}

// MediaInfo is the result of resolving a source URL. It is immutable once
// produced and scoped to a single job.
type MediaInfo struct {
	Title        string          `json:"title"`
	SourceURL    string          `json:"source_url"`
	DeclaredSize int64           `json:"declared_size"`
	Variants     []FormatVariant `json:"variants"`
}

// Accepted source URL shapes. Each form gets its own pattern so a rejected
// URL never reaches the extractor process.
var sourcePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(https?://)?(www\.)?youtube\.com/watch\?v=[a-zA-Z0-9_-]+`),
	regexp.MustCompile(`^(https?://)?(www\.)?youtu\.be/[a-zA-Z0-9_-]+`),
	regexp.MustCompile(`^(https?://)?(www\.)?youtube\.com/embed/[a-zA-Z0-9_-]+`),
	regexp.MustCompile(`^(https?://)?(www\.)?youtube\.com/shorts/[a-zA-Z0-9_-]+`),
}

// ValidSourceURL reports whether url matches one of the supported
// watch/short-link/embed/shorts forms.
func ValidSourceURL(url string) bool {
	for _, p := range sourcePatterns {
		if p.MatchString(url) {
			return true
		}
	}
	return false
}
