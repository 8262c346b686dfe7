package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type WebhookType string

const (
	WebhookDiscord WebhookType = "discord"
	WebhookSlack   WebhookType = "slack"
	WebhookGeneric WebhookType = "generic"
)

const footer = "cappair"

// CompleteOptions describes a run that reached the end of its image list.
// Failed may be non-zero: per-image failures do not fail the run.
type CompleteOptions struct {
	RunID      string
	WebhookURL string
	ImagesDir  string
	OutputPath string
	Total      int
	Succeeded  int
	Failed     int
	Duration   time.Duration
	Timeout    time.Duration
}

// FailedOptions describes a run that aborted before finishing.
type FailedOptions struct {
	RunID         string
	WebhookURL    string
	FailureReason string
	ImagesDir     string
	Processed     int
	Total         int
	Duration      time.Duration
	Timeout       time.Duration
}

func DetectWebhookType(url string) WebhookType {
	lower := strings.ToLower(url)
	if strings.Contains(lower, "discord.com/api/webhooks") || strings.Contains(lower, "discordapp.com/api/webhooks") {
		return WebhookDiscord
	}
	if strings.Contains(lower, "hooks.slack.com") {
		return WebhookSlack
	}
	return WebhookGeneric
}

func NotifyComplete(ctx context.Context, opts CompleteOptions) error {
	if strings.TrimSpace(opts.WebhookURL) == "" {
		return errors.New("webhook URL is required")
	}
	payload, err := buildCompletePayload(opts, time.Now())
	if err != nil {
		return err
	}
	return SendWebhook(ctx, opts.WebhookURL, payload, opts.Timeout)
}

func NotifyFailed(ctx context.Context, opts FailedOptions) error {
	if strings.TrimSpace(opts.WebhookURL) == "" {
		return errors.New("webhook URL is required")
	}
	payload, err := buildFailedPayload(opts, time.Now())
	if err != nil {
		return err
	}
	return SendWebhook(ctx, opts.WebhookURL, payload, opts.Timeout)
}

func SendWebhook(ctx context.Context, url string, payload []byte, timeout time.Duration) error {
	if strings.TrimSpace(url) == "" {
		return errors.New("webhook URL is required")
	}
	if len(payload) == 0 {
		return errors.New("payload is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

type field struct {
	name   string
	value  string
	inline bool
}

func buildCompletePayload(opts CompleteOptions, now time.Time) ([]byte, error) {
	title := "✅ Captioning Complete"
	color, slackColor := 5763719, "#57F287"
	if opts.Failed > 0 {
		title = "⚠️ Captioning Complete With Failures"
		color, slackColor = 16705372, "#FEE75C"
	}
	run := defaultString(opts.RunID, "unknown")
	description := fmt.Sprintf("Captioned %d of %d images from %s.", opts.Succeeded, opts.Total, defaultString(opts.ImagesDir, "unknown"))
	fields := []field{
		{name: "Output", value: fmt.Sprintf("`%s`", defaultString(opts.OutputPath, "unknown"))},
		{name: "Succeeded", value: strconv.Itoa(opts.Succeeded), inline: true},
		{name: "Failed", value: strconv.Itoa(opts.Failed), inline: true},
		{name: "Duration", value: formatDuration(opts.Duration), inline: true},
	}

	switch DetectWebhookType(opts.WebhookURL) {
	case WebhookDiscord:
		return discordPayload(title, description, color, fields, now)
	case WebhookSlack:
		return slackPayload(title, description, slackColor, fields, now)
	default:
		status := "success"
		if opts.Failed > 0 {
			status = "partial"
		}
		return json.Marshal(map[string]interface{}{
			"event":     "complete",
			"status":    status,
			"run_id":    run,
			"images":    defaultString(opts.ImagesDir, "unknown"),
			"output":    defaultString(opts.OutputPath, "unknown"),
			"total":     opts.Total,
			"succeeded": opts.Succeeded,
			"failed":    opts.Failed,
			"duration":  formatDuration(opts.Duration),
			"timestamp": now.Format(time.RFC3339),
			"message":   fmt.Sprintf("Caption run %s finished: %d succeeded, %d failed (%s)", run, opts.Succeeded, opts.Failed, formatDuration(opts.Duration)),
		})
	}
}

func buildFailedPayload(opts FailedOptions, now time.Time) ([]byte, error) {
	title := "❌ Captioning Failed"
	run := defaultString(opts.RunID, "unknown")
	reason := defaultString(opts.FailureReason, "unknown")
	description := fmt.Sprintf("Caption run %s aborted: %s", run, reason)
	progress := fmt.Sprintf("%d/%d", opts.Processed, opts.Total)
	fields := []field{
		{name: "Images", value: fmt.Sprintf("`%s`", defaultString(opts.ImagesDir, "unknown"))},
		{name: "Processed", value: progress, inline: true},
		{name: "Duration", value: formatDuration(opts.Duration), inline: true},
	}

	switch DetectWebhookType(opts.WebhookURL) {
	case WebhookDiscord:
		return discordPayload(title, description, 15548997, fields, now)
	case WebhookSlack:
		return slackPayload(title, description, "#ED4245", fields, now)
	default:
		return json.Marshal(map[string]interface{}{
			"event":     "failed",
			"status":    "failure",
			"run_id":    run,
			"images":    defaultString(opts.ImagesDir, "unknown"),
			"reason":    reason,
			"processed": opts.Processed,
			"total":     opts.Total,
			"duration":  formatDuration(opts.Duration),
			"timestamp": now.Format(time.RFC3339),
			"message":   fmt.Sprintf("Caption run %s failed after %s images: %s", run, progress, reason),
		})
	}
}

func discordPayload(title, description string, color int, fields []field, now time.Time) ([]byte, error) {
	embedFields := make([]map[string]interface{}, 0, len(fields))
	for _, f := range fields {
		embedFields = append(embedFields, map[string]interface{}{
			"name":   f.name,
			"value":  f.value,
			"inline": f.inline,
		})
	}
	return json.Marshal(map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       title,
				"description": description,
				"color":       color,
				"fields":      embedFields,
				"footer":      map[string]interface{}{"text": footer},
				"timestamp":   now.Format(time.RFC3339),
			},
		},
	})
}

func slackPayload(title, description, color string, fields []field, now time.Time) ([]byte, error) {
	sectionFields := make([]map[string]interface{}, 0, len(fields))
	for _, f := range fields {
		sectionFields = append(sectionFields, map[string]interface{}{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*%s:*\n%s", f.name, f.value),
		})
	}
	return json.Marshal(map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color": color,
				"blocks": []map[string]interface{}{
					{
						"type": "header",
						"text": map[string]interface{}{"type": "plain_text", "text": title, "emoji": true},
					},
					{
						"type": "section",
						"text": map[string]interface{}{"type": "mrkdwn", "text": description},
					},
					{
						"type":   "section",
						"fields": sectionFields,
					},
					{
						"type": "context",
						"elements": []map[string]interface{}{
							{"type": "mrkdwn", "text": fmt.Sprintf("%s • %s", footer, now.Format(time.RFC3339))},
						},
					},
				},
			},
		},
	})
}

func formatDuration(duration time.Duration) string {
	if duration <= 0 {
		return "unknown"
	}
	total := int(duration.Seconds())
	if total <= 0 {
		return "<1s"
	}
	hours := total / 3600
	mins := (total % 3600) / 60
	secs := total % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, mins, secs)
	}
	if mins > 0 {
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	return fmt.Sprintf("%ds", secs)
}

func defaultString(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
