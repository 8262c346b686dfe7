package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goosewin/cappair/internal/backend"
	"github.com/goosewin/cappair/internal/caption"
	"github.com/goosewin/cappair/internal/config"
	"github.com/goosewin/cappair/internal/state"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestExecuteRunMissingCredentialWritesNothing(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OPENAI_API_KEY", "")
	imagesDir := filepath.Join(dir, "images")
	require.NoError(t, os.MkdirAll(imagesDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(imagesDir, "a.jpg"), []byte("a"), 0o644))
	output := filepath.Join(dir, "captions.jsonl")

	var stdout, stderr bytes.Buffer
	_, err := executeRun(context.Background(), runSettings{
		ImagesDir:  imagesDir,
		Output:     output,
		Backend:    "openai",
		LogLevel:   "error",
		NoProgress: true,
		NoHistory:  true,
	}, &stdout, &stderr)

	require.ErrorIs(t, err, backend.ErrMissingCredential)
	require.Contains(t, err.Error(), "OPENAI_API_KEY")
	require.NoFileExists(t, output)
	require.Empty(t, stdout.String())
}

func TestExecuteRunUnknownBackend(t *testing.T) {
	_, err := executeRun(context.Background(), runSettings{Backend: "nope", NoProgress: true, NoHistory: true}, &bytes.Buffer{}, &bytes.Buffer{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "nope")
}

func TestExecuteRunWithOllamaRecordsHistory(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CAPPAIR_STATE_DIR", filepath.Join(dir, "state"))
	t.Setenv("CAPPAIR_STATE_FILE", "")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Images []string `json:"images"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		raw, _ := base64.StdEncoding.DecodeString(req.Messages[0].Images[0])
		content := `{"correct_caption":"a red ` + string(raw) + `","incorrect_caption":"a blue ` + string(raw) + `"}`
		if string(raw) == "broken" {
			content = "I cannot help with that."
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"model":   "qwen2.5vl",
			"message": map[string]string{"role": "assistant", "content": content},
			"done":    true,
		})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(append(payload, '\n'))
	}))
	defer server.Close()

	imagesDir := filepath.Join(dir, "images")
	require.NoError(t, os.MkdirAll(imagesDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(imagesDir, "cat.jpg"), []byte("cat"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(imagesDir, "dog.PNG"), []byte("dog"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(imagesDir, "junk.jpeg"), []byte("broken"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(imagesDir, "notes.txt"), []byte("skip"), 0o644))
	output := filepath.Join(dir, "out", "captions.jsonl")
	metricsFile := filepath.Join(dir, "cappair.prom")

	var stdout, stderr bytes.Buffer
	summary, err := executeRun(context.Background(), runSettings{
		ImagesDir:       imagesDir,
		Output:          output,
		Backend:         "ollama",
		BaseURL:         server.URL,
		MaxOutputTokens: 200,
		LogLevel:        "error",
		MetricsFile:     metricsFile,
		HistoryKeep:     10,
		NoProgress:      true,
	}, &stdout, &stderr)
	require.NoError(t, err)

	require.Equal(t, 3, summary.Listed)
	require.Equal(t, 2, summary.Succeeded)
	require.Equal(t, 1, summary.Failed)
	require.Contains(t, stdout.String(), "Found 3 images.")
	require.Contains(t, stdout.String(), "1 of 3 images failed.")
	require.Contains(t, stdout.String(), "Done. Saved to: "+output)

	file, err := os.Open(output)
	require.NoError(t, err)
	defer file.Close()
	var ids []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record caption.Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
		require.True(t, strings.HasPrefix(record.Correct, "a red "))
		ids = append(ids, record.ImageID)
	}
	require.NoError(t, scanner.Err())
	require.Equal(t, []string{"cat", "dog"}, ids)

	metrics, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	require.Contains(t, string(metrics), "cappair_images_total")

	run, err := state.GetRun(summary.RunID)
	require.NoError(t, err)
	require.Equal(t, state.StatusPartial, run.Status)
	require.Equal(t, "ollama", run.Backend)
	require.Equal(t, []string{"junk"}, run.FailedIDs)
}

func TestHistoryStatus(t *testing.T) {
	require.Equal(t, state.StatusComplete, historyStatus(caption.Summary{Succeeded: 2}, nil))
	require.Equal(t, state.StatusPartial, historyStatus(caption.Summary{Succeeded: 1, Failed: 1}, nil))
	require.Equal(t, state.StatusFailed, historyStatus(caption.Summary{}, errors.New("disk full")))
}

func TestBackendsCommandListsRegistry(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ARK_API_KEY", "ark-key")

	var out bytes.Buffer
	backendsCmd.SetOut(&out)
	defer backendsCmd.SetOut(nil)
	require.NoError(t, runBackends(backendsCmd, nil))

	text := out.String()
	require.Contains(t, text, "OPENAI_API_KEY")
	require.Contains(t, text, "ARK_API_KEY")
	require.Contains(t, text, "llama3.2-vision")
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		switch fields[0] {
		case "openai":
			require.Equal(t, "no", fields[3])
		case "ark":
			require.Equal(t, "yes", fields[3])
		case "ollama":
			require.Equal(t, "-", fields[2])
		}
	}
}

func TestFindRunByPrefix(t *testing.T) {
	t.Setenv("CAPPAIR_STATE_DIR", t.TempDir())
	t.Setenv("CAPPAIR_STATE_FILE", "")

	require.NoError(t, state.RecordRun(state.Run{ID: "abcdef12-0000", Status: state.StatusComplete}))
	require.NoError(t, state.RecordRun(state.Run{ID: "abc99999-0000", Status: state.StatusComplete}))

	run, err := findRun("abcdef")
	require.NoError(t, err)
	require.Equal(t, "abcdef12-0000", run.ID)

	_, err = findRun("abc")
	require.ErrorContains(t, err, "ambiguous")

	_, err = findRun("zzz")
	require.ErrorIs(t, err, state.ErrRunNotFound)
}

func TestTruncateDir(t *testing.T) {
	require.Equal(t, "/short", truncateDir("/short", 40))
	require.Equal(t, ".../c/d", truncateDir("/a/b/c/d", 7))
	require.Equal(t, "abcdef12", shortID("abcdef12-3456"))
}

func TestResolveRunSettingsLayersFlagsOverConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CAPPAIR_CONFIG", filepath.Join(dir, "none.yaml"))
	project := "defaults:\n  backend: ollama\n  strip_code_fence: true\nollama:\n  base_url: http://gpu-box:11434\nhistory:\n  keep: 5\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".cappair.yaml"), []byte(project), 0o644))
	_, err := config.LoadConfig(dir)
	require.NoError(t, err)

	cmd := &cobra.Command{Use: "run"}
	bindRunFlags(cmd)
	require.NoError(t, cmd.Flags().Set("model", "llava"))
	require.NoError(t, cmd.Flags().Set("max-output-tokens", "64"))

	settings, err := resolveRunSettings(cmd)
	require.NoError(t, err)
	require.Equal(t, "ollama", settings.Backend)
	require.Equal(t, "http://gpu-box:11434", settings.BaseURL)
	require.Equal(t, "llava", settings.Model)
	require.Equal(t, 64, settings.MaxOutputTokens)
	require.Equal(t, 5, settings.HistoryKeep)
	require.True(t, settings.StripCodeFence)
	require.Equal(t, caption.DefaultImagesDir, settings.ImagesDir)

	require.NoError(t, cmd.Flags().Set("max-output-tokens", "0"))
	_, err = resolveRunSettings(cmd)
	require.Error(t, err)
}
