package summary

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Turn is one utterance of a structured transcript.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Transcript is either plain text or an ordered list of turns. JSON accepts
// both a string and an array of {role, content}.
type Transcript struct {
	Text  string
	Turns []Turn
}

func TextTranscript(s string) Transcript { return Transcript{Text: s} }

func TurnsTranscript(turns ...Turn) Transcript { return Transcript{Turns: turns} }

// IsStructured reports whether the transcript arrived as turns.
func (t Transcript) IsStructured() bool { return t.Turns != nil }

// IsEmpty reports whether there is nothing to summarize.
func (t Transcript) IsEmpty() bool {
	return strings.TrimSpace(t.Flatten()) == ""
}

// Flatten renders turns as "role: content" lines in order. Plain text is
// returned unchanged.
func (t Transcript) Flatten() string {
	if !t.IsStructured() {
		return t.Text
	}
	lines := make([]string, 0, len(t.Turns))
	for _, turn := range t.Turns {
		lines = append(lines, turn.Role+": "+turn.Content)
	}
	return strings.Join(lines, "\n")
}

func (t *Transcript) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*t = Transcript{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Transcript{Text: s}
		return nil
	case data[0] == '[':
		turns := []Turn{}
		if err := json.Unmarshal(data, &turns); err != nil {
			return fmt.Errorf("transcript turns: %w", err)
		}
		*t = Transcript{Turns: turns}
		return nil
	default:
		return fmt.Errorf("transcript must be a string or an array of turns")
	}
}

func (t Transcript) MarshalJSON() ([]byte, error) {
	if t.IsStructured() {
		return json.Marshal(t.Turns)
	}
	return json.Marshal(t.Text)
}
