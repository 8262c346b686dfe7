package caption

import (
	"fmt"
	"os"
	"strings"
)

const DefaultPrompt = `
Generate two captions for this image:

1. A correct, grounded, accurate caption.
2. A slightly incorrect caption (change ONLY 1–2 details: color, count, object, action).

Return ONLY JSON:
{
  "correct_caption": "...",
  "incorrect_caption": "..."
}
`

// LoadPrompt returns the prompt stored at path, or DefaultPrompt when
// path is empty.
func LoadPrompt(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultPrompt, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("prompt file does not exist: %s", path)
	}
	if info.IsDir() {
		return "", fmt.Errorf("prompt file is a directory: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt file: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("prompt file is empty: %s", path)
	}
	return string(data), nil
}
