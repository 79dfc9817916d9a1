// Package formats derives the user-selectable quality options from raw
// extractor metadata.
package formats

import (
	"fmt"

	"github.com/mvellans/tgfetch/bot/common"
)

const (
	AudioOptionID    = "audio"
	AudioOptionLabel = "Audio Only"
)

// Option is one deduplicated, user-facing quality choice.
type Option struct {
	ID        string
	Label     string
	Height    int
	AudioOnly bool
}

// Selector returns the yt-dlp format selector for the option. Declared
// heights are a ceiling, not a guarantee of an exact match, so video options
// ask for the best stream at or below the advertised height.
func (o Option) Selector() string {
	if o.AudioOnly {
		return "bestaudio/best"
	}
	return fmt.Sprintf("best[height<=%d]", o.Height)
}

// containers we know the transport can play back
var knownContainers = map[string]bool{
	"mp4":  true,
	"webm": true,
}

// Build projects the declared variants to resolution-labeled options,
// suppressing duplicate labels (first occurrence wins, preserving source
// ordering) and unconditionally appending one audio-only option last. The
// caller therefore always gets at least one actionable choice whenever any
// metadata was returned.
func Build(info *common.MediaInfo) []Option {
	if info == nil || len(info.Variants) == 0 {
		return nil
	}

	var (
		options []Option
		seen    = make(map[string]bool)
	)

	for _, v := range info.Variants {
		if v.Height <= 0 || !knownContainers[v.Container] {
			continue
		}

		label := fmt.Sprintf("%dp", v.Height)
		if seen[label] {
			continue
		}
		seen[label] = true

		options = append(options, Option{
			ID:     label,
			Label:  label,
			Height: v.Height,
		})
	}

	return append(options, Option{
		ID:        AudioOptionID,
		Label:     AudioOptionLabel,
		AudioOnly: true,
	})
}
