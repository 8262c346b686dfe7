package caption

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParsePair(t *testing.T) {
	cases := []struct {
		name      string
		input     string
		correct   string
		incorrect string
		wantErr   bool
	}{
		{name: "plain", input: `{"correct_caption":"a dog","incorrect_caption":"a cat"}`, correct: "a dog", incorrect: "a cat"},
		{name: "whitespace", input: "\n  {\"correct_caption\": \"x\", \"incorrect_caption\": \"y\"}\n", correct: "x", incorrect: "y"},
		{name: "fenced", input: "```json\n{\"correct_caption\":\"x\",\"incorrect_caption\":\"y\"}\n```", wantErr: true},
		{name: "extra keys", input: `{"correct_caption":"x","incorrect_caption":"y","note":1}`, correct: "x", incorrect: "y"},
		{name: "not json", input: "Here are your captions", wantErr: true},
		{name: "empty", input: "  ", wantErr: true},
		{name: "missing key", input: `{"correct_caption":"x"}`, wantErr: true},
		{name: "non string", input: `{"correct_caption":"x","incorrect_caption":3}`, wantErr: true},
		{name: "array", input: `["x","y"]`, wantErr: true},
		{name: "null", input: `null`, wantErr: true},
		{name: "trailing", input: `{"correct_caption":"x","incorrect_caption":"y"} {"a":1}`, wantErr: true},
		{name: "extra brace", input: `{"correct_caption":"a","incorrect_caption":"b"}}`, wantErr: true},
		{name: "extra bracket", input: `{"correct_caption":"a","incorrect_caption":"b"}]`, wantErr: true},
		{name: "trailing garbage", input: `{"correct_caption":"a","incorrect_caption":"b"} ok`, wantErr: true},
	}

	for _, tc := range cases {
		pair, err := ParsePair(tc.input)
		if tc.wantErr {
			if !errors.Is(err, ErrParse) {
				t.Fatalf("%s: expected ErrParse, got %v", tc.name, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if pair.Correct != tc.correct || pair.Incorrect != tc.incorrect {
			t.Fatalf("%s: unexpected pair %+v", tc.name, pair)
		}
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}\n```":     `{"a":1}`,
		"```{\"a\":1}```":           `{"a":1}`,
		"  {\"a\":1}  ":             `{"a":1}`,
		"```":                       "```",
	}
	for input, want := range cases {
		if got := StripCodeFence(input); got != want {
			t.Fatalf("StripCodeFence(%q) = %q, want %q", input, got, want)
		}
	}

	pair, err := ParsePair(StripCodeFence("```json\n{\"correct_caption\":\"x\",\"incorrect_caption\":\"y\"}\n```"))
	if err != nil || pair.Correct != "x" || pair.Incorrect != "y" {
		t.Fatalf("expected fenced reply to parse once stripped, got %+v (%v)", pair, err)
	}
}

func TestLoadPrompt(t *testing.T) {
	prompt, err := LoadPrompt("")
	if err != nil || prompt != DefaultPrompt {
		t.Fatalf("expected default prompt, got %q (%v)", prompt, err)
	}

	path := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(path, []byte("custom"), 0o644); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
	prompt, err = LoadPrompt(path)
	if err != nil || prompt != "custom" {
		t.Fatalf("expected custom prompt, got %q (%v)", prompt, err)
	}

	if _, err := LoadPrompt(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Fatalf("expected error for missing prompt file")
	}
}
