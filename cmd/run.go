package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/goosewin/cappair/internal/backend"
	_ "github.com/goosewin/cappair/internal/backend/ark"
	_ "github.com/goosewin/cappair/internal/backend/ollama"
	_ "github.com/goosewin/cappair/internal/backend/openai"
	"github.com/goosewin/cappair/internal/caption"
	"github.com/goosewin/cappair/internal/config"
	"github.com/goosewin/cappair/internal/logging"
	"github.com/goosewin/cappair/internal/metrics"
	"github.com/goosewin/cappair/internal/notify"
	"github.com/goosewin/cappair/internal/state"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	runImagesDir       string
	runOutput          string
	runBackend         string
	runModel           string
	runMaxOutputTokens int
	runPromptFile      string
	runWebhook         string
	runLogFile         string
	runLogLevel        string
	runMetricsFile     string
	runNoProgress      bool
	runNoHistory       bool
	runStripCodeFence  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Caption every image in a folder",
	Args:  cobra.NoArgs,
	RunE:  runCaption,
}

func init() {
	bindRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func bindRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&runImagesDir, "images", "i", "", "Directory of .jpg/.jpeg/.png images (default: images)")
	cmd.Flags().StringVarP(&runOutput, "output", "o", "", "JSON-lines output file (default: captions.jsonl)")
	cmd.Flags().StringVarP(&runBackend, "backend", "b", "", "Captioning backend (openai, ark, ollama)")
	cmd.Flags().StringVarP(&runModel, "model", "m", "", "Model override (backend-specific)")
	cmd.Flags().IntVar(&runMaxOutputTokens, "max-output-tokens", 0, "Output length cap per request (default: 200)")
	cmd.Flags().StringVar(&runPromptFile, "prompt-file", "", "Path to a custom instruction prompt")
	cmd.Flags().StringVar(&runWebhook, "webhook", "", "Notification webhook URL")
	cmd.Flags().StringVar(&runLogFile, "log-file", "", "Also append JSON logs to this file")
	cmd.Flags().StringVar(&runLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&runMetricsFile, "metrics-file", "", "Write Prometheus textfile metrics to this path")
	cmd.Flags().BoolVar(&runNoProgress, "no-progress", false, "Disable the progress bar")
	cmd.Flags().BoolVar(&runNoHistory, "no-history", false, "Do not record this run in the history index")
	cmd.Flags().BoolVar(&runStripCodeFence, "strip-code-fence", false, "Accept replies wrapped in a markdown code fence")
}

// runSettings is the fully resolved configuration for one run.
type runSettings struct {
	ImagesDir       string
	Output          string
	Backend         string
	Model           string
	BaseURL         string
	MaxOutputTokens int
	PromptFile      string
	Webhook         string
	LogFile         string
	LogLevel        string
	MetricsFile     string
	HistoryKeep     int
	StripCodeFence  bool
	NoProgress      bool
	NoHistory       bool
}

func runCaption(cmd *cobra.Command, args []string) error {
	if err := loadConfigForCwd(); err != nil {
		return err
	}

	settings, err := resolveRunSettings(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	_, err = executeRun(ctx, settings, cmd.OutOrStdout(), cmd.ErrOrStderr())
	return err
}

// resolveRunSettings applies flags over the loaded configuration.
func resolveRunSettings(cmd *cobra.Command) (runSettings, error) {
	cfg, err := config.Current()
	if err != nil {
		return runSettings{}, err
	}

	flags := cmd.Flags()
	pick := func(flag, value, configured, fallback string) string {
		if flags.Changed(flag) && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
		if configured = strings.TrimSpace(configured); configured != "" {
			return configured
		}
		return fallback
	}

	settings := runSettings{
		ImagesDir:      pick("images", runImagesDir, cfg.Defaults.ImagesDir, caption.DefaultImagesDir),
		Output:         pick("output", runOutput, cfg.Defaults.Output, caption.DefaultOutputPath),
		Backend:        strings.ToLower(pick("backend", runBackend, cfg.Defaults.Backend, backend.DefaultName())),
		Model:          pick("model", runModel, cfg.Defaults.Model, ""),
		PromptFile:     pick("prompt-file", runPromptFile, cfg.Defaults.PromptFile, ""),
		Webhook:        pick("webhook", runWebhook, cfg.Notify.Webhook, ""),
		LogFile:        pick("log-file", runLogFile, cfg.Logging.File, ""),
		LogLevel:       pick("log-level", runLogLevel, cfg.Logging.Level, "info"),
		MetricsFile:    pick("metrics-file", runMetricsFile, cfg.Metrics.Textfile, ""),
		HistoryKeep:    cfg.History.Keep,
		StripCodeFence: cfg.Defaults.StripCodeFence,
		NoProgress:     runNoProgress,
		NoHistory:      runNoHistory,
	}
	settings.BaseURL = cfg.BaseURL(settings.Backend)
	if flags.Changed("strip-code-fence") {
		settings.StripCodeFence = runStripCodeFence
	}

	settings.MaxOutputTokens = cfg.Defaults.MaxOutputTokens
	if settings.MaxOutputTokens <= 0 {
		settings.MaxOutputTokens = caption.DefaultMaxOutputTokens
	}
	if flags.Changed("max-output-tokens") {
		if runMaxOutputTokens <= 0 {
			return settings, errors.New("max-output-tokens must be a positive integer")
		}
		settings.MaxOutputTokens = runMaxOutputTokens
	}

	return settings, nil
}

// executeRun opens the backend before touching the output file, so a
// missing credential aborts with nothing written.
func executeRun(ctx context.Context, settings runSettings, stdout, stderr io.Writer) (caption.Summary, error) {
	desc, ok := backend.Get(settings.Backend)
	if !ok {
		return caption.Summary{}, fmt.Errorf("backend not found: %s", settings.Backend)
	}
	apiKey, _ := desc.Credential()
	instance, err := backend.Open(desc.Name, backend.Options{APIKey: apiKey, BaseURL: settings.BaseURL})
	if err != nil {
		return caption.Summary{}, err
	}

	prompt, err := caption.LoadPrompt(settings.PromptFile)
	if err != nil {
		return caption.Summary{}, err
	}

	logger, err := logging.New(logging.Options{Level: settings.LogLevel, File: settings.LogFile, Console: stderr})
	if err != nil {
		return caption.Summary{}, err
	}
	defer logger.Close()

	model := settings.Model
	if model == "" {
		model = desc.DefaultModel
	}
	runID := uuid.NewString()
	runMetrics := metrics.NewRun(desc.Name)

	var bar *progressbar.ProgressBar
	progress := func(update caption.ProgressUpdate) {
		if update.Status == caption.StatusStarted {
			fmt.Fprintf(stdout, "Found %d images.\n\n", update.Total)
			if !settings.NoProgress && update.Total > 0 {
				bar = progressbar.NewOptions(update.Total,
					progressbar.OptionSetWriter(stderr),
					progressbar.OptionSetDescription("Processing"),
					progressbar.OptionShowCount(),
					progressbar.OptionSetElapsedTime(true),
					progressbar.OptionOnCompletion(func() { fmt.Fprintln(stderr) }),
				)
			}
			return
		}
		runMetrics.ObserveImage(update.Status == caption.StatusSucceeded, update.Elapsed)
		if bar != nil {
			_ = bar.Add(1)
		}
	}

	captioner, err := caption.New(caption.Config{
		ImagesDir:       settings.ImagesDir,
		OutputPath:      settings.Output,
		Model:           model,
		MaxOutputTokens: settings.MaxOutputTokens,
		Prompt:          prompt,
		StripCodeFence:  settings.StripCodeFence,
		RunID:           runID,
		Logger:          logger.With().Str("run_id", runID).Logger(),
		Progress:        progress,
	}, instance)
	if err != nil {
		return caption.Summary{}, err
	}

	summary, runErr := captioner.Run(ctx)
	if bar != nil {
		_ = bar.Finish()
	}
	runMetrics.Finish(summary.Duration, time.Now())

	if err := runMetrics.WriteTextfile(settings.MetricsFile); err != nil {
		logger.Warn().Err(err).Msg("metrics not written")
	}
	if !settings.NoHistory {
		recordHistory(logger, summary, runErr, settings.HistoryKeep)
	}
	sendNotification(ctx, logger, settings.Webhook, summary, runErr)

	if runErr != nil {
		return summary, runErr
	}

	if summary.Failed > 0 {
		fmt.Fprintf(stdout, "\n%d of %d images failed.\n", summary.Failed, summary.Total())
	}
	fmt.Fprintf(stdout, "\nDone. Saved to: %s\n", summary.OutputPath)
	return summary, nil
}

func historyStatus(summary caption.Summary, runErr error) string {
	switch {
	case runErr != nil:
		return state.StatusFailed
	case summary.Failed > 0:
		return state.StatusPartial
	default:
		return state.StatusComplete
	}
}

func recordHistory(logger *logging.Logger, summary caption.Summary, runErr error, keep int) {
	failedIDs := make([]string, 0, summary.Failed)
	for _, result := range summary.Failures() {
		failedIDs = append(failedIDs, result.ImageID)
	}
	run := state.Run{
		ID:         summary.RunID,
		Status:     historyStatus(summary, runErr),
		ImagesDir:  summary.ImagesDir,
		OutputPath: summary.OutputPath,
		Backend:    summary.Backend,
		Model:      summary.Model,
		Total:      summary.Total(),
		Succeeded:  summary.Succeeded,
		Failed:     summary.Failed,
		FailedIDs:  failedIDs,
		StartedAt:  summary.StartedAt,
		DurationMS: summary.Duration.Milliseconds(),
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := state.RecordRun(run); err != nil {
		logger.Warn().Err(err).Msg("run history not updated")
		return
	}
	if _, err := state.PruneRuns(keep); err != nil {
		logger.Warn().Err(err).Msg("run history not pruned")
	}
}

func sendNotification(ctx context.Context, logger *logging.Logger, webhook string, summary caption.Summary, runErr error) {
	if strings.TrimSpace(webhook) == "" {
		return
	}
	// the run context may already be cancelled; the webhook still goes out
	ctx = context.WithoutCancel(ctx)

	var err error
	if runErr != nil {
		err = notify.NotifyFailed(ctx, notify.FailedOptions{
			RunID:         summary.RunID,
			WebhookURL:    webhook,
			FailureReason: runErr.Error(),
			ImagesDir:     summary.ImagesDir,
			Processed:     summary.Total(),
			Total:         summary.Listed,
			Duration:      summary.Duration,
		})
	} else {
		err = notify.NotifyComplete(ctx, notify.CompleteOptions{
			RunID:      summary.RunID,
			WebhookURL: webhook,
			ImagesDir:  summary.ImagesDir,
			OutputPath: summary.OutputPath,
			Total:      summary.Total(),
			Succeeded:  summary.Succeeded,
			Failed:     summary.Failed,
			Duration:   summary.Duration,
		})
	}
	if err != nil {
		logger.Warn().Err(err).Msg("notification failed")
	}
}
