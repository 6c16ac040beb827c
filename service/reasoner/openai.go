package reasoner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *resty.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// NewOpenAIClient creates a client for baseURL, e.g. https://api.openai.com/v1.
func NewOpenAIClient(baseURL, apiKey, model string, timeout time.Duration) *OpenAIClient {
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(1 * time.Second)
	client.SetRetryMaxWaitTime(5 * time.Second)

	return &OpenAIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  client,
	}
}

func (c *OpenAIClient) Reason(ctx context.Context, instructions, prompt string) (string, error) {
	if instructions == "" {
		instructions = DefaultInstructions
	}
	req := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(chatRequest{
			Model: c.model,
			Messages: []chatMessage{
				{Role: "system", Content: instructions},
				{Role: "user", Content: prompt},
			},
		})
	if c.apiKey != "" {
		req.SetAuthToken(c.apiKey)
	}

	resp, err := req.Post(c.baseURL + "/chat/completions")
	if err != nil {
		return "", fmt.Errorf("failed to call reasoner: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("reasoner returned status %d: %s", resp.StatusCode(), resp.String())
	}

	var result chatResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return "", fmt.Errorf("failed to decode reasoner response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("reasoner returned no choices")
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}
