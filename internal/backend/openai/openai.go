package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goosewin/cappair/internal/backend"
	goopenai "github.com/sashabaranov/go-openai"
)

const (
	Name          = "openai"
	CredentialEnv = "OPENAI_API_KEY"
	DefaultModel  = "gpt-4.1-mini"
)

type Backend struct {
	client *goopenai.Client
}

func New(opts backend.Options) (backend.Backend, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("%w: %s is not set", backend.ErrMissingCredential, CredentialEnv)
	}
	cfg := goopenai.DefaultConfig(opts.APIKey)
	if strings.TrimSpace(opts.BaseURL) != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	return &Backend{client: goopenai.NewClientWithConfig(cfg)}, nil
}

var _ backend.Backend = (*Backend)(nil)

func init() {
	if err := backend.Register(backend.Descriptor{
		Name:          Name,
		CredentialEnv: CredentialEnv,
		DefaultModel:  DefaultModel,
		Models:        []string{DefaultModel, goopenai.GPT4o, goopenai.GPT4oMini},
		New:           New,
	}); err != nil {
		panic(err)
	}
}

func (b *Backend) Name() string {
	return Name
}

func (b *Backend) Complete(ctx context.Context, req backend.Request) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", errors.New("prompt is required")
	}
	if req.ImageBase64 == "" {
		return "", errors.New("image is required")
	}
	model := req.Model
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}

	resp, err := b.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:     model,
		MaxTokens: req.MaxOutputTokens,
		Messages: []goopenai.ChatCompletionMessage{
			{
				Role: goopenai.ChatMessageRoleUser,
				MultiContent: []goopenai.ChatMessagePart{
					{
						Type: goopenai.ChatMessagePartTypeText,
						Text: req.Prompt,
					},
					{
						Type: goopenai.ChatMessagePartTypeImageURL,
						ImageURL: &goopenai.ChatMessageImageURL{
							URL:    backend.DataURI(req.MIMEType, req.ImageBase64),
							Detail: goopenai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
