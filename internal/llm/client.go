package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// maxToolRounds bounds how many times one reply may go back to the
// model with tool results before the exchange is abandoned.
const maxToolRounds = 4

// Message roles in a conversation.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Client generates assistant replies through the OpenAI chat completions API
type Client struct {
	config Config
	api    openai.Client
	tools  *Toolset

	// Statistics
	totalRequests   uint64
	failedRequests  uint64
	totalToolCalls  uint64
	totalTokens     uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains chat client configuration
type Config struct {
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

// Message is one turn of the conversation sent to the model
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is one function invocation requested by the model
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Usage accumulates token counts across the rounds of one reply
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Reply is the final assistant answer, with any tool calls executed
// along the way
type Reply struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalToolCalls  uint64        `json:"total_tool_calls"`
	TotalTokens     uint64        `json:"total_tokens"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// NewClient creates a new chat client. The toolset may be nil for
// plain completions without function calling.
func NewClient(config Config, tools *Toolset) (*Client, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 2
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithRequestTimeout(config.Timeout),
		// Chat requests are not latency critical the way recognition
		// is, so transient failures are left to the SDK's own retries.
		option.WithMaxRetries(config.MaxRetries),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &Client{
		config: config,
		api:    openai.NewClient(opts...),
		tools:  tools,
	}, nil
}

// Respond sends the conversation to the model and returns its answer.
// Tool calls requested by the model are executed in process and their
// results fed back until the model answers with text.
func (c *Client) Respond(ctx context.Context, messages []Message) (*Reply, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("messages cannot be empty")
	}

	conversation, err := convertMessages(messages)
	if err != nil {
		return nil, err
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	reply := &Reply{}

	for round := 0; ; round++ {
		params := c.buildParams(conversation)

		resp, err := c.api.Chat.Completions.New(ctx, params)
		if err != nil {
			c.incrementFailedRequests()
			return nil, fmt.Errorf("chat completion failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			c.incrementFailedRequests()
			return nil, fmt.Errorf("empty choices in response")
		}

		reply.Usage.PromptTokens += int(resp.Usage.PromptTokens)
		reply.Usage.CompletionTokens += int(resp.Usage.CompletionTokens)
		reply.Usage.TotalTokens += int(resp.Usage.TotalTokens)

		message := resp.Choices[0].Message

		if len(message.ToolCalls) == 0 || c.tools == nil {
			reply.Content = strings.TrimSpace(message.Content)
			break
		}

		if round == maxToolRounds {
			c.incrementFailedRequests()
			return nil, fmt.Errorf("tool calls still pending after %d rounds", maxToolRounds)
		}

		conversation = append(conversation, assistantParam(message))

		for _, tc := range message.ToolCalls {
			call := ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			}
			reply.ToolCalls = append(reply.ToolCalls, call)
			c.incrementToolCalls()

			result, err := c.tools.Execute(ctx, call.Name, call.Arguments)
			if err != nil {
				// The model sees the failure and can rephrase or
				// ask the caller for what is missing.
				result = fmt.Sprintf(`{"error": %q}`, err.Error())
			}
			conversation = append(conversation, openai.ToolMessage(result, tc.ID))
		}
	}

	c.addTokens(uint64(reply.Usage.TotalTokens))
	c.updateAvgResponseTime(time.Since(startTime))
	return reply, nil
}

// buildParams assembles request parameters for one round.
func (c *Client) buildParams(conversation []openai.ChatCompletionMessageParamUnion) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.config.Model),
		Messages: conversation,
	}

	if c.config.Temperature > 0 {
		params.Temperature = param.NewOpt(c.config.Temperature)
	}
	if c.config.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(c.config.MaxTokens))
	}

	if c.tools != nil {
		for _, tool := range c.tools.Tools() {
			params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
				Function: shared.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: param.NewOpt(tool.Description),
					Parameters:  shared.FunctionParameters(tool.Parameters),
				},
			})
		}
	}

	return params
}

// convertMessages converts conversation history to SDK message params
func convertMessages(messages []Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))

		case RoleUser:
			out = append(out, openai.UserMessage(m.Content))

		case RoleAssistant:
			asst := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				asst.Content.OfString = openai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})

		case RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))

		default:
			return nil, fmt.Errorf("unknown message role %q", m.Role)
		}
	}

	return out, nil
}

// assistantParam echoes a model response back into the conversation so
// the next round can reference its tool calls.
func assistantParam(message openai.ChatCompletionMessage) openai.ChatCompletionMessageParamUnion {
	asst := openai.ChatCompletionAssistantMessageParam{}
	if message.Content != "" {
		asst.Content.OfString = openai.String(message.Content)
	}
	for _, tc := range message.ToolCalls {
		asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &asst}
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementToolCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalToolCalls++
}

func (c *Client) addTokens(tokens uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalTokens += tokens
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.totalRequests-c.failedRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalToolCalls:  c.totalToolCalls,
		TotalTokens:     c.totalTokens,
		AvgResponseTime: c.avgResponseTime,
	}
}
