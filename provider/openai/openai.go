package openai_provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/trackon/budgetd/models"
)

const (
	openaiAPIURL = "https://api.openai.com/v1/chat/completions"
)

// client implements the Provider interface using OpenAI's chat API
type client struct {
	apiKey          string
	completionModel string
	temperature     float64
	maxTokens       int
	httpClient      *http.Client
}

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// request represents a request to the OpenAI API
type request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// response represents a response from the OpenAI API
type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(apiKey, completionModel string, temperature float64, maxTokens int, timeout time.Duration) *client {
	return &client{
		apiKey:          apiKey,
		completionModel: completionModel,
		temperature:     temperature,
		maxTokens:       maxTokens,
		httpClient:      &http.Client{Timeout: timeout},
	}
}

const extractSystemPrompt = `
You are a budget query parser. You read a user's natural-language question about
project budgets and extract its structure.

RULES:
1. intent is one of: check, update, predict, recommend, analyze, report, question
2. project_name is the project the user names, or "" if they name none
3. parameters holds only figures the user explicitly states; use null when a
   figure is not stated. Never invent numbers.
4. For updates set update_type (add, replace or set), update_field (spent,
   budget_limit or history) and update_value. update_value is a number for
   spent and budget_limit, an array of numbers for history.
5. spending_description is a short label for what the money was spent on, when
   the user says so (e.g. "server costs"), otherwise "".

RESPONSE FORMAT:
Respond ONLY with valid JSON in the following format:
{
  "intent": "check",
  "project_name": "name or empty string",
  "parameters": {"budget_limit": null, "spent": null, "history": null},
  "update_type": "",
  "update_field": "",
  "update_value": null,
  "spending_description": ""
}
Do not include any other text or explanation.
`

// ExtractQuery parses a natural-language budget query into its structure.
func (c *client) ExtractQuery(ctx context.Context, query string) (models.Extraction, error) {
	messages := []Message{
		{Role: "system", Content: extractSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("USER QUERY: %q", query)},
	}

	responseStr, err := c.sendRequest(ctx, messages)
	if err != nil {
		return models.Extraction{}, err
	}

	var ext models.Extraction
	if err := json.Unmarshal([]byte(stripFences(responseStr)), &ext); err != nil {
		return models.Extraction{}, fmt.Errorf("failed to parse extraction: %w", err)
	}
	return ext, nil
}

// Summarize turns an analysis result into a short natural-language answer
// to the user's original question.
func (c *client) Summarize(ctx context.Context, query string, state json.RawMessage) (string, error) {
	prompt := fmt.Sprintf(`You are a budget assistant. Answer the user's question in two or three
plain sentences using only the figures below. Do not invent numbers.

USER QUESTION: %q

BUDGET STATE:
%s

Respond with the answer only.`, query, string(state))

	messages := []Message{
		{Role: "user", Content: prompt},
	}

	return c.sendRequest(ctx, messages)
}

// stripFences removes a markdown code fence the model sometimes wraps
// around its JSON.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// sendRequest sends a request to the OpenAI API
func (c *client) sendRequest(ctx context.Context, messages []Message) (string, error) {
	requestBody := request{
		Model:       c.completionModel,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", openaiAPIURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status: %d", resp.StatusCode)
	}

	var openaiResp response
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if len(openaiResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return openaiResp.Choices[0].Message.Content, nil
}
