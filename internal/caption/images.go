package caption

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var imageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// ListImages returns the image filenames directly inside dir, in the
// order os.ReadDir yields them. Subdirectories are not descended into.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read image directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if IsImage(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// IsImage reports whether name has a supported image extension.
func IsImage(name string) bool {
	_, ok := imageExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// ImageID is the filename without its extension.
func ImageID(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// MIMEType maps an image filename to its media type.
func MIMEType(name string) string {
	if mime, ok := imageExtensions[strings.ToLower(filepath.Ext(name))]; ok {
		return mime
	}
	return "image/jpeg"
}

// Encode reads the file at path and returns it as standard base64.
func Encode(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRead, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
