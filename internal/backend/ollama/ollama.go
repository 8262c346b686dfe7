package ollama

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goosewin/cappair/internal/backend"
	"github.com/ollama/ollama/api"
)

const (
	Name         = "ollama"
	DefaultModel = "qwen2.5vl"
)

type Backend struct {
	client *api.Client
}

func New(opts backend.Options) (backend.Backend, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("ollama client: %w", err)
		}
		return &Backend{client: client}, nil
	}

	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse ollama host: %w", err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Backend{client: api.NewClient(base, httpClient)}, nil
}

var _ backend.Backend = (*Backend)(nil)

func init() {
	if err := backend.Register(backend.Descriptor{
		Name:         Name,
		DefaultModel: DefaultModel,
		Models:       []string{DefaultModel, "llama3.2-vision", "llava"},
		New:          New,
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
	image, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	if len(image) == 0 {
		return "", errors.New("image is required")
	}
	modelName := req.Model
	if strings.TrimSpace(modelName) == "" {
		modelName = DefaultModel
	}

	options := map[string]interface{}{"temperature": 0}
	if req.MaxOutputTokens > 0 {
		options["num_predict"] = req.MaxOutputTokens
	}

	stream := false
	var reply strings.Builder
	err = b.client.Chat(ctx, &api.ChatRequest{
		Model: modelName,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: req.Prompt,
				Images:  []api.ImageData{image},
			},
		},
		Stream:  &stream,
		Options: options,
	}, func(resp api.ChatResponse) error {
		reply.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	return reply.String(), nil
}
