package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/sashabaranov/go-openai"

	"grailed-lister/config"
	"grailed-lister/models"
	"grailed-lister/utils"
)

// OpenAIAnalyzer proposes listing metadata from product photos using an
// OpenAI-compatible chat completion endpoint.
type OpenAIAnalyzer struct {
	client *openai.Client
	cfg    config.VisionConfig
	logger *utils.Logger
}

// NewOpenAIAnalyzer creates an analyzer from the vision configuration.
func NewOpenAIAnalyzer(cfg config.VisionConfig, logger *utils.Logger) (*OpenAIAnalyzer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("vision: OPENAI_API_KEY is not set")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIAnalyzer{client: openai.NewClientWithConfig(clientCfg), cfg: cfg, logger: logger}, nil
}

type proposalPayload struct {
	Fields     map[string]any     `json:"fields"`
	Confidence map[string]float64 `json:"confidence"`
}

// Analyze sends the images and instruction in one request and parses the
// reply into a proposal.
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, images []models.Image, instruction string) (*models.Proposal, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("vision: no images: %w", models.ErrMetadataUnavailable)
	}
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: instruction}}
	for _, img := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    dataURL(img),
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
		MaxTokens:      a.cfg.MaxTokens,
		Temperature:    0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("vision: no choices in response: %w", models.ErrMetadataUnavailable)
	}

	a.logger.Debug("[vision] %d prompt / %d completion tokens", resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return parseProposal(resp.Choices[0].Message.Content)
}

// classify maps client errors onto the metadata error taxonomy.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.Code == "insufficient_quota" {
			return fmt.Errorf("vision: %w: %v", models.ErrQuotaExceeded, err)
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("vision: %w: %v", models.ErrQuotaExceeded, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("vision: %w: %w", models.ErrMetadataUnavailable, err)
	}
	return fmt.Errorf("vision: %w: %v", models.ErrMetadataUnavailable, err)
}

// parseProposal decodes the model's JSON reply, repairing it when the model
// returned something almost-JSON such as a fenced or truncated object.
func parseProposal(content string) (*models.Proposal, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("vision: empty reply: %w", models.ErrMetadataUnavailable)
	}

	var payload proposalPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(content)
		if repairErr != nil {
			return nil, fmt.Errorf("vision: malformed reply: %w: %v", models.ErrMetadataUnavailable, err)
		}
		payload = proposalPayload{}
		if err := json.Unmarshal([]byte(repaired), &payload); err != nil {
			return nil, fmt.Errorf("vision: malformed reply after repair: %w: %v", models.ErrMetadataUnavailable, err)
		}
	}
	if len(payload.Fields) == 0 {
		return nil, fmt.Errorf("vision: reply has no fields: %w", models.ErrMetadataUnavailable)
	}

	proposal := &models.Proposal{Confidence: make(map[string]float64)}
	for _, f := range models.MetadataFields {
		raw, ok := payload.Fields[f]
		if !ok {
			continue
		}
		if s, ok := raw.(string); ok {
			proposal.Fields.Set(f, s)
		} else if raw != nil {
			proposal.Fields.Set(f, fmt.Sprint(raw))
		}
		if c, ok := payload.Confidence[f]; ok {
			proposal.Confidence[f] = clamp(c)
		}
	}
	return proposal, nil
}

func dataURL(img models.Image) string {
	mime := img.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
