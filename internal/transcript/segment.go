package transcript

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Segment is one timed unit of spoken text as captured from the video page.
// Segments are ordered by start time and immutable once parsed.
type Segment struct {
	Start time.Duration
	Text  string
}

// WireSegment mirrors the JSON records the browser extension scrapes from
// the page DOM: {"time": "1:05", "text": "..."}.
type WireSegment struct {
	Time string `json:"time"`
	Text string `json:"text"`
}

// UnmarshalJSON accepts the scraped string form ("1:05") as well as bare
// numeric seconds (65 or 65.4), which transcript APIs and agent clients
// send. Numeric values are carried as their decimal string so round-trips
// through persisted JSON stay lossless.
func (w *WireSegment) UnmarshalJSON(data []byte) error {
	var raw struct {
		Time json.RawMessage `json:"time"`
		Text string          `json:"text"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	w.Text = raw.Text
	w.Time = ""
	if len(raw.Time) == 0 || string(raw.Time) == "null" {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw.Time, &s); err == nil {
		w.Time = s
		return nil
	}
	var secs float64
	if err := json.Unmarshal(raw.Time, &secs); err != nil {
		return fmt.Errorf("invalid segment time %s", raw.Time)
	}
	w.Time = strconv.FormatFloat(secs, 'f', -1, 64)
	return nil
}

// FromWire converts scraped records into Segments. Missing or unparseable
// timestamps default to 0:00 and text is sanitised; empty-text segments are
// kept so downstream indices stay aligned with the source transcript.
func FromWire(records []WireSegment) []Segment {
	if len(records) == 0 {
		return nil
	}
	segments := make([]Segment, len(records))
	for i, r := range records {
		start, err := ParseTimestamp(r.Time)
		if err != nil {
			start = 0
		}
		segments[i] = Segment{Start: start, Text: Sanitize(r.Text)}
	}
	return segments
}

// Sanitize strips markup and normalises whitespace in DOM-scraped caption
// text. Auto-generated captions frequently carry tags like <i> and HTML
// entities; only the visible text survives.
func Sanitize(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}

	var b strings.Builder
	tok := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := tok.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt == html.TextToken {
			// Token() unescapes entities in text nodes.
			b.WriteString(tok.Token().Data)
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
