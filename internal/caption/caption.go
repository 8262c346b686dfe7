package caption

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goosewin/cappair/internal/backend"
	"github.com/rs/zerolog"
)

var (
	ErrRead    = errors.New("read image")
	ErrService = errors.New("caption service")
	ErrParse   = errors.New("parse captions")
)

const (
	DefaultImagesDir       = "images"
	DefaultOutputPath      = "captions.jsonl"
	DefaultMaxOutputTokens = 200
)

type Status string

const (
	StatusStarted   Status = "started"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

type ProgressCallback func(update ProgressUpdate)

// ProgressUpdate is emitted once with StatusStarted before the first
// image and once per image afterwards.
type ProgressUpdate struct {
	Index   int
	Total   int
	ImageID string
	Status  Status
	Err     error
	Elapsed time.Duration
}

// Config is everything a run needs besides the backend.
type Config struct {
	ImagesDir       string
	OutputPath      string
	Model           string
	MaxOutputTokens int
	Prompt          string
	// StripCodeFence accepts replies wrapped in one markdown code fence.
	StripCodeFence bool
	RunID          string
	Logger         zerolog.Logger
	Progress       ProgressCallback
}

// Result is the outcome for one image: Record is set on success, Err
// on failure.
type Result struct {
	ImageID string
	File    string
	Record  *Record
	Err     error
	Elapsed time.Duration
}

func (r Result) OK() bool {
	return r.Err == nil
}

type Summary struct {
	RunID      string
	ImagesDir  string
	OutputPath string
	Backend    string
	Model      string
	Listed     int
	Results    []Result
	Succeeded  int
	Failed     int
	StartedAt  time.Time
	Duration   time.Duration
}

func (s Summary) Total() int {
	return len(s.Results)
}

// Failures returns the failed results in processing order.
func (s Summary) Failures() []Result {
	failed := make([]Result, 0, s.Failed)
	for _, result := range s.Results {
		if !result.OK() {
			failed = append(failed, result)
		}
	}
	return failed
}

type Captioner struct {
	cfg     Config
	backend backend.Backend
}

// New applies defaults to cfg and binds it to a backend.
func New(cfg Config, b backend.Backend) (*Captioner, error) {
	if b == nil {
		return nil, errors.New("backend is required")
	}
	if strings.TrimSpace(cfg.ImagesDir) == "" {
		cfg.ImagesDir = DefaultImagesDir
	}
	if strings.TrimSpace(cfg.OutputPath) == "" {
		cfg.OutputPath = DefaultOutputPath
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if strings.TrimSpace(cfg.Prompt) == "" {
		cfg.Prompt = DefaultPrompt
	}
	return &Captioner{cfg: cfg, backend: b}, nil
}

// RequestCaptions sends one image to the backend and parses the reply.
func (c *Captioner) RequestCaptions(ctx context.Context, imageBase64, mimeType string) (Pair, error) {
	text, err := c.backend.Complete(ctx, backend.Request{
		Prompt:          c.cfg.Prompt,
		Model:           c.cfg.Model,
		ImageBase64:     imageBase64,
		MIMEType:        mimeType,
		MaxOutputTokens: c.cfg.MaxOutputTokens,
	})
	if err != nil {
		return Pair{}, fmt.Errorf("%w: %w", ErrService, err)
	}
	if c.cfg.StripCodeFence {
		text = StripCodeFence(text)
	}
	return ParsePair(text)
}

// Run captions every image in the configured directory and writes one
// JSON line per success. Per-image failures are logged and skipped; only
// a missing input directory, an unwritable output file or a cancelled
// context stop the run.
func (c *Captioner) Run(ctx context.Context) (Summary, error) {
	summary := Summary{
		RunID:      c.cfg.RunID,
		ImagesDir:  c.cfg.ImagesDir,
		OutputPath: c.cfg.OutputPath,
		Backend:    c.backend.Name(),
		Model:      c.cfg.Model,
		StartedAt:  time.Now(),
	}
	logger := c.cfg.Logger

	images, err := ListImages(c.cfg.ImagesDir)
	if err != nil {
		return summary, err
	}
	summary.Listed = len(images)

	if dir := filepath.Dir(c.cfg.OutputPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return summary, fmt.Errorf("create output dir: %w", err)
		}
	}
	out, err := os.Create(c.cfg.OutputPath)
	if err != nil {
		return summary, fmt.Errorf("create output file: %w", err)
	}
	defer out.Close()

	logger.Info().
		Str("images_dir", c.cfg.ImagesDir).
		Str("output", c.cfg.OutputPath).
		Str("backend", summary.Backend).
		Int("images", len(images)).
		Msg("starting caption run")

	c.emit(ProgressUpdate{Total: len(images), Status: StatusStarted})

	for i, name := range images {
		if err := ctx.Err(); err != nil {
			summary.Duration = time.Since(summary.StartedAt)
			return summary, err
		}

		result := c.captionOne(ctx, name)
		if result.OK() {
			line, err := json.Marshal(result.Record)
			if err != nil {
				result.Err = fmt.Errorf("encode record: %w", err)
				result.Record = nil
			} else if _, err := out.Write(append(line, '\n')); err != nil {
				summary.Duration = time.Since(summary.StartedAt)
				return summary, fmt.Errorf("write %s: %w", c.cfg.OutputPath, err)
			}
		}

		summary.Results = append(summary.Results, result)
		update := ProgressUpdate{Index: i + 1, Total: len(images), ImageID: result.ImageID, Elapsed: result.Elapsed}
		if result.OK() {
			summary.Succeeded++
			update.Status = StatusSucceeded
			logger.Debug().Str("image_id", result.ImageID).Dur("elapsed", result.Elapsed).Msg("captioned")
		} else {
			summary.Failed++
			update.Status = StatusFailed
			update.Err = result.Err
			logger.Error().
				Str("image_id", result.ImageID).
				Str("kind", ErrorKind(result.Err)).
				Err(result.Err).
				Msg("caption failed")
		}
		c.emit(update)
	}

	if err := out.Sync(); err != nil {
		summary.Duration = time.Since(summary.StartedAt)
		return summary, fmt.Errorf("sync %s: %w", c.cfg.OutputPath, err)
	}

	summary.Duration = time.Since(summary.StartedAt)
	logger.Info().
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Dur("duration", summary.Duration).
		Msg("caption run finished")
	return summary, nil
}

func (c *Captioner) captionOne(ctx context.Context, name string) Result {
	start := time.Now()
	result := Result{ImageID: ImageID(name), File: name}

	encoded, err := Encode(filepath.Join(c.cfg.ImagesDir, name))
	if err != nil {
		result.Err = err
		result.Elapsed = time.Since(start)
		return result
	}

	pair, err := c.RequestCaptions(ctx, encoded, MIMEType(name))
	result.Elapsed = time.Since(start)
	if err != nil {
		result.Err = err
		return result
	}

	result.Record = &Record{
		ImageID:   result.ImageID,
		Correct:   pair.Correct,
		Incorrect: pair.Incorrect,
	}
	return result
}

func (c *Captioner) emit(update ProgressUpdate) {
	if c.cfg.Progress != nil {
		c.cfg.Progress(update)
	}
}

// ErrorKind names the failure class of a per-image error.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRead):
		return "io"
	case errors.Is(err, ErrService):
		return "service"
	case errors.Is(err, ErrParse):
		return "parse"
	default:
		return "other"
	}
}
