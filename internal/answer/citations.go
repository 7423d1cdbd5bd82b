package answer

import (
	"regexp"
	"strings"
	"time"

	"github.com/tubechat/tubechat/internal/transcript"
)

// Citation is one timestamp reference extracted from an answer. End is zero
// for point citations; ranges carry both bounds.
type Citation struct {
	Label   string        `json:"label"`
	Start   time.Duration `json:"-"`
	End     time.Duration `json:"-"`
	Seconds int           `json:"seconds"`
}

// Bracketed timestamps only. Timestamps in running prose stay plain text;
// the extension turns these into seek links.
var citationRe = regexp.MustCompile(`\[(\d{1,2}:(?:\d{1,2}:)?\d{2})(?:\s*-\s*(\d{1,2}:(?:\d{1,2}:)?\d{2}))?\]`)

// ExtractCitations returns the timestamp citations in an answer, in order
// of first appearance, deduplicated by label. Bracketed values that do not
// parse as timestamps are ignored.
func ExtractCitations(text string) []Citation {
	matches := citationRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var citations []Citation
	for _, m := range matches {
		start, err := transcript.ParseTimestamp(m[1])
		if err != nil {
			continue
		}
		c := Citation{
			Start:   start,
			Seconds: int(start.Seconds()),
		}
		if m[2] != "" {
			end, err := transcript.ParseTimestamp(m[2])
			if err != nil || end < start {
				continue
			}
			c.End = end
			c.Label = transcript.FormatTimestamp(start) + " - " + transcript.FormatTimestamp(end)
		} else {
			c.Label = transcript.FormatTimestamp(start)
		}
		if seen[c.Label] {
			continue
		}
		seen[c.Label] = true
		citations = append(citations, c)
	}
	return citations
}

// HasNoSources reports whether the model declined to answer for lack of
// transcript evidence.
func HasNoSources(text string) bool {
	return strings.Contains(text, NoSourcesMarker)
}

// StripNoSources removes the marker so it never reaches the user verbatim.
func StripNoSources(text string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, NoSourcesMarker, ""))
}
