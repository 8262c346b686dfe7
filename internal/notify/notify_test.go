package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDetectWebhookType(t *testing.T) {
	cases := []struct {
		name string
		url  string
		want WebhookType
	}{
		{name: "discord", url: "https://discord.com/api/webhooks/123", want: WebhookDiscord},
		{name: "discordapp", url: "https://discordapp.com/api/webhooks/123", want: WebhookDiscord},
		{name: "slack", url: "https://hooks.slack.com/services/abc", want: WebhookSlack},
		{name: "generic", url: "https://example.com/webhook", want: WebhookGeneric},
	}

	for _, tc := range cases {
		if got := DetectWebhookType(tc.url); got != tc.want {
			t.Fatalf("%s: expected %s got %s", tc.name, tc.want, got)
		}
	}
}

func TestBuildCompletePayloadDiscord(t *testing.T) {
	opts := CompleteOptions{
		RunID:      "run-1",
		WebhookURL: "https://discord.com/api/webhooks/123",
		ImagesDir:  "images",
		OutputPath: "captions.jsonl",
		Total:      3,
		Succeeded:  3,
		Duration:   3661 * time.Second,
	}
	payload, err := buildCompletePayload(opts, time.Date(2026, 1, 26, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}

	embeds := decoded["embeds"].([]interface{})
	embed := embeds[0].(map[string]interface{})
	if embed["title"].(string) != "✅ Captioning Complete" {
		t.Fatalf("unexpected title: %v", embed["title"])
	}
	fields := embed["fields"].([]interface{})
	if len(fields) != 4 {
		t.Fatalf("expected 4 fields, got %d", len(fields))
	}
	succeeded := fields[1].(map[string]interface{})
	if succeeded["value"].(string) != "3" {
		t.Fatalf("unexpected succeeded: %v", succeeded["value"])
	}
	duration := fields[3].(map[string]interface{})
	if duration["value"].(string) != "1h 1m 1s" {
		t.Fatalf("unexpected duration: %v", duration["value"])
	}
}

func TestBuildCompletePayloadGenericWithFailures(t *testing.T) {
	opts := CompleteOptions{
		RunID:      "run-2",
		WebhookURL: "https://example.com/webhook",
		Total:      2,
		Succeeded:  1,
		Failed:     1,
		Duration:   65 * time.Second,
	}
	payload, err := buildCompletePayload(opts, time.Date(2026, 1, 26, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded["status"].(string) != "partial" {
		t.Fatalf("unexpected status: %v", decoded["status"])
	}
	if decoded["message"].(string) != "Caption run run-2 finished: 1 succeeded, 1 failed (1m 5s)" {
		t.Fatalf("unexpected message: %v", decoded["message"])
	}
}

func TestBuildFailedPayloadSlack(t *testing.T) {
	opts := FailedOptions{
		RunID:         "run-3",
		WebhookURL:    "https://hooks.slack.com/services/abc",
		FailureReason: "write captions.jsonl: no space left on device",
		ImagesDir:     "images",
		Processed:     4,
		Total:         10,
		Duration:      70 * time.Second,
	}
	payload, err := buildFailedPayload(opts, time.Date(2026, 1, 26, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}

	attachments := decoded["attachments"].([]interface{})
	attachment := attachments[0].(map[string]interface{})
	blocks := attachment["blocks"].([]interface{})
	section := blocks[1].(map[string]interface{})
	text := section["text"].(map[string]interface{})
	if text["text"].(string) != "Caption run run-3 aborted: write captions.jsonl: no space left on device" {
		t.Fatalf("unexpected slack description: %v", text["text"])
	}
	fields := blocks[2].(map[string]interface{})["fields"].([]interface{})
	if len(fields) != 3 {
		t.Fatalf("expected 3 slack fields, got %d", len(fields))
	}
	processed := fields[1].(map[string]interface{})
	if processed["text"].(string) != "*Processed:*\n4/10" {
		t.Fatalf("unexpected processed field: %v", processed["text"])
	}
}

func TestNotifyCompletePostsJSON(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	err := NotifyComplete(context.Background(), CompleteOptions{RunID: "run-4", WebhookURL: server.URL, Total: 1, Succeeded: 1})
	if err != nil {
		t.Fatalf("notify complete: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if decoded["run_id"].(string) != "run-4" {
		t.Fatalf("unexpected run id: %v", decoded["run_id"])
	}
}

func TestSendWebhookRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	if err := SendWebhook(context.Background(), server.URL, []byte(`{}`), time.Second); err == nil {
		t.Fatalf("expected error for HTTP 400")
	}
}
