package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"zapdesk/models"
)

const openAIResponsesURL = "https://api.openai.com/v1/responses"

// OpenAIReplier calls the OpenAI Responses API and returns assistant text.
type OpenAIReplier struct {
	APIKey       string
	Model        string
	SystemPrompt string
	Endpoint     string // defaults to the public Responses API

	HTTPClient *http.Client
}

func (o OpenAIReplier) GenerateReply(ctx context.Context, history []models.HistoryEntry) (string, error) {
	if strings.TrimSpace(o.APIKey) == "" {
		return "", fmt.Errorf("OPENAI_API_KEY not set")
	}
	if len(history) == 0 {
		return "", fmt.Errorf("empty history")
	}

	reqBody := map[string]any{
		"model":        o.Model,
		"instructions": o.SystemPrompt,
		"input":        openAIInput(history),
	}
	b, _ := json.Marshal(reqBody)

	endpoint := o.Endpoint
	if endpoint == "" {
		endpoint = openAIResponsesURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+o.APIKey)
	req.Header.Set("Content-Type", "application/json")

	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("openai error %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Output []struct {
			Type    string `json:"type"`
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, item := range parsed.Output {
		if item.Type == "message" && item.Role == "assistant" {
			for _, c := range item.Content {
				if c.Type == "output_text" && strings.TrimSpace(c.Text) != "" {
					if sb.Len() > 0 {
						sb.WriteString("\n")
					}
					sb.WriteString(c.Text)
				}
			}
		}
	}

	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", fmt.Errorf("empty response from model (no output_text items found)")
	}
	return out, nil
}

// openAIInput maps history to Responses API input messages.
func openAIInput(history []models.HistoryEntry) []map[string]string {
	in := make([]map[string]string, 0, len(history))
	for _, e := range history {
		role := "user"
		if e.Sender == models.SenderBot {
			role = "assistant"
		}
		in = append(in, map[string]string{"role": role, "content": e.Text})
	}
	return in
}
