package answer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tubechat/tubechat/internal/retrieval"
	"github.com/tubechat/tubechat/internal/transcript"
)

const defaultMaxContextTokens = 4000

// NoSourcesMarker is what the model is told to answer when the transcript
// excerpts do not contain the requested information.
const NoSourcesMarker = "[NO_SOURCES]"

// Mode selects the answer register.
type Mode string

const (
	ModeConcise  Mode = "concise"
	ModeDetailed Mode = "detailed"
)

// ModeFromString normalises a wire value to a Mode, defaulting to concise.
func ModeFromString(s string) Mode {
	if Mode(strings.ToLower(strings.TrimSpace(s))) == ModeDetailed {
		return ModeDetailed
	}
	return ModeConcise
}

// MaxAnswerTokens returns the generation budget for a mode.
func MaxAnswerTokens(m Mode) int {
	if m == ModeDetailed {
		return 900
	}
	return 512
}

// Composer assembles the system prompt for answer generation from the video
// title and the reranked transcript excerpts.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for injected excerpts.
// If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Compose builds the system prompt. Excerpts are selected by score under
// the token budget, then laid out in transcript order so the model reads
// the video in sequence. Each excerpt carries its timestamp range, which is
// what makes the citation instruction answerable.
func (c *Composer) Compose(title string, chunks []retrieval.ScoredChunk, mode Mode) string {
	var sb strings.Builder

	sb.WriteString("You are answering questions about a video using only the transcript excerpts below.")
	if title != "" {
		fmt.Fprintf(&sb, " The video is titled %q.", title)
	}
	sb.WriteString("\n\n")

	selected := c.selectChunks(chunks)
	if len(selected) > 0 {
		sb.WriteString("Transcript excerpts:\n")
		for _, ch := range selected {
			fmt.Fprintf(&sb, "[%s]: %s\n", ch.TimeRange(), ch.Text)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Cite the timestamps of the excerpts you use in square brackets, for example [12:34].\n")
	fmt.Fprintf(&sb, "If the excerpts do not contain the information needed to answer, reply with exactly %s.\n", NoSourcesMarker)

	if mode == ModeDetailed {
		sb.WriteString("Give a thorough answer covering every relevant excerpt.")
	} else {
		sb.WriteString("Answer in a few sentences.")
	}

	return sb.String()
}

// selectChunks keeps the highest-scoring excerpts that fit the token budget
// and returns them in transcript order.
func (c *Composer) selectChunks(chunks []retrieval.ScoredChunk) []transcript.Chunk {
	if len(chunks) == 0 {
		return nil
	}

	byScore := make([]retrieval.ScoredChunk, len(chunks))
	copy(byScore, chunks)
	sort.SliceStable(byScore, func(i, j int) bool {
		return byScore[i].Score > byScore[j].Score
	})

	remaining := c.MaxContextTokens
	var selected []transcript.Chunk
	for _, ch := range byScore {
		tokens := EstimateTokens(ch.Chunk.Text)
		if tokens > remaining {
			continue
		}
		selected = append(selected, ch.Chunk)
		remaining -= tokens
	}

	sort.Slice(selected, func(i, j int) bool {
		return selected[i].Start < selected[j].Start
	})
	return selected
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
