// Package agentapi drives an agent turn directly against the
// Anthropic API (or AWS Bedrock), executing the model's tool calls
// locally instead of shelling out to a CLI. It is the "api" backend
// alternative to internal/agentrunner's subprocess backend.
package agentapi

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
)

// Client wraps the Anthropic SDK client with token usage tracking.
type Client struct {
	inner   anthropic.Client
	model   anthropic.Model
	tracker *TokenTracker
}

// ClientConfig configures a new Client.
type ClientConfig struct {
	Model         anthropic.Model
	APIKey        string
	UseAWSBedrock bool
	AWSRegion     string
	AWSProfile    string
}

// NewClient builds a Client from ClientConfig, authenticating either
// via ANTHROPIC_API_KEY or AWS Bedrock credentials.
func NewClient(cfg ClientConfig) (*Client, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		ctx := context.Background()
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("agentapi: ANTHROPIC_API_KEY is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	inner := anthropic.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	if cfg.UseAWSBedrock {
		model = translateModelForBedrock(model)
	}

	return &Client{inner: inner, model: model, tracker: NewTokenTracker()}, nil
}

var bedrockModels = map[anthropic.Model]string{
	anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
	anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
	anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
	anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
	anthropic.ModelClaudeOpus4_5_20251101:   "us.anthropic.claude-opus-4-5-20251101-v1:0",
	anthropic.ModelClaude3_7Sonnet20250219:  "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
	anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
}

// translateModelForBedrock maps a standard model name to its Bedrock
// cross-region inference profile, when one is known.
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	if m, ok := bedrockModels[model]; ok {
		return anthropic.Model(m)
	}
	return model
}

func (c *Client) sdk() *anthropic.Client { return &c.inner }

// Model returns the client's configured model.
func (c *Client) Model() anthropic.Model { return c.model }

// Tracker returns the token tracker accumulating this client's usage.
func (c *Client) Tracker() *TokenTracker { return c.tracker }

// TranslateModel maps model to its Bedrock form if this client is
// itself talking to Bedrock; otherwise returns model unchanged.
func (c *Client) TranslateModel(model anthropic.Model) anthropic.Model {
	if strings.HasPrefix(string(c.model), "us.anthropic") {
		return translateModelForBedrock(model)
	}
	return model
}

// TokenTracker accumulates input/output token counts across calls.
type TokenTracker struct {
	mu        sync.Mutex
	inputTok  int64
	outputTok int64
	calls     int
}

// NewTokenTracker builds an empty TokenTracker.
func NewTokenTracker() *TokenTracker { return &TokenTracker{} }

// Add records one call's token usage.
func (t *TokenTracker) Add(input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTok += input
	t.outputTok += output
	t.calls++
}

// Total returns the running input/output token totals.
func (t *TokenTracker) Total() (input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputTok, t.outputTok
}

// Calls returns the number of API calls tracked so far.
func (t *TokenTracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}
