package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"outreach-engine/internal/config"
)

const defaultBaseURL = "https://api.openai.com/v1"

const firstTouchSystemPrompt = "You are an SDR who writes concise, respectful first-touch cold emails. " +
	"Personalize each email using the provided lead and company context. " +
	"Keep the body under 140 words, avoid exaggeration, and end with a single, low-friction CTA."

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint.
// It is the only place that knows the provider wire format.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

func NewOpenAIClient(cfg config.GeneratorConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("ai: api key required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIClient{
		baseURL: strings.TrimRight(base, "/"),
		apiKey:  cfg.APIKey,
		model:   model,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *OpenAIClient) GenerateEmail(ctx context.Context, req EmailRequest) (EmailResult, error) {
	system := req.SystemPrompt
	if system == "" {
		system = firstTouchSystemPrompt
	}

	var user strings.Builder
	user.WriteString("Write the email body only. Use plain text and avoid placeholders.\n")
	if req.StepInstructions != "" {
		user.WriteString("Step instructions: " + req.StepInstructions + "\n")
	}
	user.WriteString("Lead context:\n" + req.LeadContext + "\n")
	if req.ThreadText != "" {
		user.WriteString("\nThread so far:\n" + req.ThreadText + "\n")
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	resp, err := c.complete(ctx, chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user.String()},
		},
		Temperature: 0.6,
		MaxTokens:   420,
	})
	if err != nil {
		return EmailResult{}, err
	}

	body := strings.TrimSpace(choiceContent(resp))
	if body == "" {
		return EmailResult{}, ErrEmpty
	}
	return EmailResult{
		Body:             body,
		Model:            model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (c *OpenAIClient) ClassifyIntent(ctx context.Context, thread string, allowed []string) (string, error) {
	labels := allowed
	if len(labels) == 0 {
		labels = []string{"meeting_request", "question", "negative", "no_interest"}
	}
	system := fmt.Sprintf("Classify the reply intent into one label: %s. If none fit, return other.", strings.Join(labels, ", "))

	resp, err := c.complete(ctx, chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: "Thread:\n" + thread + "\n\nReturn only the label."},
		},
		Temperature: 0.2,
		MaxTokens:   10,
	})
	if err != nil {
		return "", err
	}

	label := strings.ToLower(strings.TrimSpace(choiceContent(resp)))
	for _, l := range labels {
		if label == strings.ToLower(l) {
			return label, nil
		}
	}
	return "other", nil
}

func (c *OpenAIClient) SummarizeThread(ctx context.Context, thread string) (string, error) {
	resp, err := c.complete(ctx, chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: "Summarize this email thread for a reviewer in at most three sentences. Note the sender's ask and sentiment."},
			{Role: "user", Content: thread},
		},
		Temperature: 0.2,
		MaxTokens:   160,
	})
	if err != nil {
		return "", err
	}
	out := strings.TrimSpace(choiceContent(resp))
	if out == "" {
		return "", ErrEmpty
	}
	return out, nil
}

func (c *OpenAIClient) complete(ctx context.Context, body chatRequest) (chatResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return chatResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return chatResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return chatResponse{}, ErrTimeout
		}
		return chatResponse{}, fmt.Errorf("ai: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return chatResponse{}, fmt.Errorf("ai: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return chatResponse{}, fmt.Errorf("ai: provider returned %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return chatResponse{}, fmt.Errorf("ai: decode response: %w", err)
	}
	return out, nil
}

func choiceContent(r chatResponse) string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Timeout()
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
