package ark

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goosewin/cappair/internal/backend"
	"github.com/volcengine/volcengine-go-sdk/service/arkruntime"
	"github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
)

const (
	Name          = "ark"
	CredentialEnv = "ARK_API_KEY"
	DefaultModel  = "doubao-1-5-vision-pro-32k-250115"
)

type Backend struct {
	client *arkruntime.Client
}

func New(opts backend.Options) (backend.Backend, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("%w: %s is not set", backend.ErrMissingCredential, CredentialEnv)
	}
	var configs []arkruntime.ConfigOption
	if strings.TrimSpace(opts.BaseURL) != "" {
		configs = append(configs, arkruntime.WithBaseUrl(strings.TrimRight(opts.BaseURL, "/")))
	}
	if opts.HTTPClient != nil {
		configs = append(configs, arkruntime.WithHTTPClient(opts.HTTPClient))
	}
	return &Backend{client: arkruntime.NewClientWithApiKey(opts.APIKey, configs...)}, nil
}

var _ backend.Backend = (*Backend)(nil)

func init() {
	if err := backend.Register(backend.Descriptor{
		Name:          Name,
		CredentialEnv: CredentialEnv,
		DefaultModel:  DefaultModel,
		Models:        []string{DefaultModel, "doubao-1-5-vision-lite-250315"},
		New:           New,
	}); err != nil {
		panic(err)
	}
}

func (b *Backend) Name() string {
	return Name
}

// Complete sends one multimodal chat request.
func (b *Backend) Complete(ctx context.Context, req backend.Request) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", errors.New("prompt is required")
	}
	if req.ImageBase64 == "" {
		return "", errors.New("image is required")
	}
	modelName := req.Model
	if strings.TrimSpace(modelName) == "" {
		modelName = DefaultModel
	}

	request := model.CreateChatCompletionRequest{
		Model: modelName,
		Messages: []*model.ChatCompletionMessage{
			{
				Role: model.ChatMessageRoleUser,
				Content: &model.ChatCompletionMessageContent{
					ListValue: []*model.ChatCompletionMessageContentPart{
						{
							Type: model.ChatCompletionMessageContentPartTypeText,
							Text: req.Prompt,
						},
						{
							Type: model.ChatCompletionMessageContentPartTypeImageURL,
							ImageURL: &model.ChatMessageImageURL{
								URL: backend.DataURI(req.MIMEType, req.ImageBase64),
							},
						},
					},
				},
			},
		},
	}
	if req.MaxOutputTokens > 0 {
		request.MaxTokens = &req.MaxOutputTokens
	}

	resp, err := b.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return "", fmt.Errorf("ark request: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", errors.New("ark returned no choices")
	}
	content := resp.Choices[0].Message.Content
	if content == nil || content.StringValue == nil {
		return "", errors.New("ark returned no text content")
	}
	return *content.StringValue, nil
}
