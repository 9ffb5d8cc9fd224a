package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// completionsPath is appended to the endpoint base URL for chat
	// completion calls.
	completionsPath = "/chat/completions"

	// defaultCallTimeout bounds a single completion call. Failover across
	// keys imposes no additional deadline on top of this.
	defaultCallTimeout = 120 * time.Second

	// RoleSystem and RoleUser are the chat roles this relay emits.
	RoleSystem = "system"
	RoleUser   = "user"
)

// ErrEmptyCompletion is returned when the endpoint answers 2xx but the
// response carries no assistant content.
var ErrEmptyCompletion = errors.New("completion response contained no content")

// Message is a single chat message in the OpenAI-compatible wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModelClient performs one completion call against a remote model endpoint
// using a single credential. When onChunk is non-nil the call streams and
// partial text is forwarded as it arrives; the final return value is the
// complete text either way.
type ModelClient interface {
	Call(ctx context.Context, messages []Message, onChunk func(string)) (string, error)
}

// ClientConfig carries everything an OpenAIClient needs for one credential.
type ClientConfig struct {
	// EndpointURL is the base URL of the OpenAI-compatible API, e.g.
	// "https://api.openai.com/v1".
	EndpointURL  string
	APIKey       string
	Model        string
	SystemPrompt string
	Temperature  float64
}

// ClientFactory builds a ModelClient for one credential. The invoker calls
// it once per attempt; tests substitute fakes here.
type ClientFactory func(cfg ClientConfig) ModelClient

// OpenAIClient is the production ModelClient for OpenAI-compatible chat
// completion endpoints.
type OpenAIClient struct {
	cfg        ClientConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewOpenAIClient creates a client bound to one endpoint, credential and
// model. A nil logger disables logging.
func NewOpenAIClient(cfg ClientConfig, logger *zap.Logger) *OpenAIClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: defaultCallTimeout},
		logger:     logger,
	}
}

// completionRequest is the JSON body for a chat completion call.
type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream,omitempty"`
}

// Call implements ModelClient. The configured system prompt, when set, is
// prepended unless the caller already supplied a leading system message.
func (c *OpenAIClient) Call(ctx context.Context, messages []Message, onChunk func(string)) (string, error) {
	payload := completionRequest{
		Model:       c.cfg.Model,
		Messages:    c.withSystemPrompt(messages),
		Temperature: c.cfg.Temperature,
		Stream:      onChunk != nil,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	callURL := strings.TrimSuffix(c.cfg.EndpointURL, "/") + completionsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callURL, bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("X-Request-ID", uuid.New().String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("API returned error: %s - %s", resp.Status, string(respBody))
	}

	if onChunk != nil {
		return c.readStream(ctx, resp.Body, onChunk)
	}
	return readCompletion(resp.Body)
}

func (c *OpenAIClient) withSystemPrompt(messages []Message) []Message {
	if c.cfg.SystemPrompt == "" {
		return messages
	}
	if len(messages) > 0 && messages[0].Role == RoleSystem {
		return messages
	}
	return append([]Message{{Role: RoleSystem, Content: c.cfg.SystemPrompt}}, messages...)
}

// readCompletion parses a non-streaming completion response.
func readCompletion(body io.Reader) (string, error) {
	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	if err := json.NewDecoder(body).Decode(&response); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(response.Choices) == 0 || response.Choices[0].Message.Content == "" {
		return "", ErrEmptyCompletion
	}
	return response.Choices[0].Message.Content, nil
}

// streamChunk is one SSE delta frame from a streaming completion.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// readStream consumes an SSE response body, forwarding delta content to
// onChunk and returning the accumulated text.
func (c *OpenAIClient) readStream(ctx context.Context, body io.Reader, onChunk func(string)) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var full strings.Builder

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return full.String(), err
		}

		line := scanner.Text()

		// SSE format: accept both "data: " (with space) and "data:".
		// Some OpenAI-compatible providers omit the space after the colon.
		var data string
		switch {
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimPrefix(line, "data:")
		default:
			continue
		}

		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Debug("skipping malformed stream chunk", zap.Error(err))
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}

		onChunk(chunk.Choices[0].Delta.Content)
		full.WriteString(chunk.Choices[0].Delta.Content)
	}

	if err := scanner.Err(); err != nil {
		return full.String(), err
	}
	if full.Len() == 0 {
		return "", ErrEmptyCompletion
	}
	return full.String(), nil
}
