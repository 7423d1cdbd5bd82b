package transcript

import (
	"math"
	"strings"
	"time"
)

const (
	// DefaultTargetWords is the word budget for one retrievable chunk.
	DefaultTargetWords = 600

	// DefaultOverlapFraction is the share of the target length that adjacent
	// chunks share, so topic transitions spanning a boundary remain
	// retrievable from at least one chunk.
	DefaultOverlapFraction = 0.13
)

// Chunk is a contiguous, possibly overlapping span of transcript text
// treated as one retrievable unit. Start is the start time of its first
// segment; End is the start time of the segment following its last segment,
// or the last segment's start at the end of the transcript.
type Chunk struct {
	Text         string
	Start        time.Duration
	End          time.Duration
	FirstSegment int
	LastSegment  int
}

// TimeRange returns the chunk's citation label, e.g. "03:15 - 04:30".
func (c Chunk) TimeRange() string {
	return FormatTimestamp(c.Start) + " - " + FormatTimestamp(c.End)
}

// Split cuts an ordered transcript into overlapping word windows.
// Boundaries fall only between segments, so no word is ever split and every
// chunk maps back to a valid start time. An empty transcript yields nil; a
// transcript shorter than targetWords yields exactly one chunk.
func Split(segments []Segment, targetWords int, overlapFraction float64) []Chunk {
	if len(segments) == 0 {
		return nil
	}
	if targetWords <= 0 {
		targetWords = DefaultTargetWords
	}
	if overlapFraction < 0 {
		overlapFraction = 0
	}
	overlapWords := int(math.Ceil(float64(targetWords) * overlapFraction))

	wordCounts := make([]int, len(segments))
	for i, s := range segments {
		wordCounts[i] = len(strings.Fields(s.Text))
	}

	var chunks []Chunk
	first := 0
	words := 0
	for i := range segments {
		if words+wordCounts[i] > targetWords && i > first {
			chunks = append(chunks, makeChunk(segments, first, i-1))

			// Seed the next chunk with trailing segments until the overlap
			// budget is covered.
			carried := 0
			next := i
			for next > first && carried < overlapWords {
				next--
				carried += wordCounts[next]
			}
			first = next
			words = carried
		}
		words += wordCounts[i]
	}
	chunks = append(chunks, makeChunk(segments, first, len(segments)-1))
	return chunks
}

func makeChunk(segments []Segment, first, last int) Chunk {
	parts := make([]string, 0, last-first+1)
	for i := first; i <= last; i++ {
		if segments[i].Text != "" {
			parts = append(parts, segments[i].Text)
		}
	}

	end := segments[last].Start
	if last+1 < len(segments) {
		end = segments[last+1].Start
	}

	return Chunk{
		Text:         strings.Join(parts, " "),
		Start:        segments[first].Start,
		End:          end,
		FirstSegment: first,
		LastSegment:  last,
	}
}
