package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pavelanni/assessor/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// Review holds the model's advisory assessment of a whole submission.
type Review struct {
	Summary   string   `json:"summary"`
	Strengths []string `json:"strengths"`
	Concerns  []string `json:"concerns"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new reviewer client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Ping checks that the endpoint answers and serves the configured model.
func (c *Client) Ping(ctx context.Context) error {
	list, err := c.api.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	for _, m := range list.Models {
		if m.ID == c.model {
			return nil
		}
	}
	return fmt.Errorf("model %q not served by endpoint", c.model)
}

// Evaluate asks the model for an advisory review of all answers.
func (c *Client) Evaluate(ctx context.Context, questions []model.Question, answers map[int]model.Answer) (*Review, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildReviewSystemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: buildReviewUserPrompt(questions, answers)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)

	var review Review
	if err := json.Unmarshal([]byte(raw), &review); err != nil {
		return nil, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	return &review, nil
}

// ReviewSubmission returns the review formatted as report notes.
func (c *Client) ReviewSubmission(ctx context.Context, questions []model.Question, answers map[int]model.Answer) (string, error) {
	review, err := c.Evaluate(ctx, questions, answers)
	if err != nil {
		return "", err
	}
	return review.Format(), nil
}

// Format renders the review as plain text.
func (r *Review) Format() string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(r.Summary))
	sb.WriteString("\n")
	writeList(&sb, "Strengths", r.Strengths)
	writeList(&sb, "Concerns", r.Concerns)
	return strings.TrimRight(sb.String(), "\n")
}

func writeList(sb *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	sb.WriteString("\n" + title + ":\n")
	for _, item := range items {
		sb.WriteString("- " + strings.TrimSpace(item) + "\n")
	}
}
