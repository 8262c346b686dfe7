package caption

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Pair is the two captions generated for one image.
type Pair struct {
	Correct   string `json:"correct_caption"`
	Incorrect string `json:"incorrect_caption"`
}

// Record is one line of the JSON-lines output.
type Record struct {
	ImageID   string `json:"image_id"`
	Correct   string `json:"correct_caption"`
	Incorrect string `json:"incorrect_caption"`
}

// ParsePair decodes a service reply into a Pair. The reply must be a
// single JSON object holding both keys as strings.
func ParsePair(text string) (Pair, error) {
	body := strings.TrimSpace(text)
	if body == "" {
		return Pair{}, fmt.Errorf("%w: empty reply", ErrParse)
	}

	var fields map[string]json.RawMessage
	decoder := json.NewDecoder(strings.NewReader(body))
	if err := decoder.Decode(&fields); err != nil {
		return Pair{}, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return Pair{}, fmt.Errorf("%w: trailing data after JSON object", ErrParse)
	}

	correct, err := stringField(fields, "correct_caption")
	if err != nil {
		return Pair{}, err
	}
	incorrect, err := stringField(fields, "incorrect_caption")
	if err != nil {
		return Pair{}, err
	}

	return Pair{Correct: correct, Incorrect: incorrect}, nil
}

func stringField(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %q", ErrParse, key)
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("%w: %q is not a string", ErrParse, key)
	}
	return value, nil
}

// StripCodeFence removes one markdown code fence wrapped around text,
// including an info string such as ```json. Text without a fence is
// returned trimmed.
func StripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") || len(trimmed) < 6 {
		return trimmed
	}
	inner := trimmed[3 : len(trimmed)-3]
	if newline := strings.IndexByte(inner, '\n'); newline >= 0 {
		// drop the info string, e.g. ```json
		if !strings.ContainsAny(inner[:newline], "{}") {
			inner = inner[newline+1:]
		}
	}
	return strings.TrimSpace(inner)
}
