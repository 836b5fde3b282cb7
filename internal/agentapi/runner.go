package agentapi

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ralph-orchestrator/ralph/internal/timeline"
	"github.com/ralph-orchestrator/ralph/pkg/ralphmodel"
)

const defaultMaxIterations = 50

// Result is the outcome of one API-backed agent turn: the final
// assistant text (where a completion signal is expected) plus usage.
type Result struct {
	Text         string
	Iterations   int
	InputTokens  int64
	OutputTokens int64
	Duration     time.Duration
	DurationMS   int64
	Error        string
}

// Success reports whether the turn ended cleanly, without error.
func (r Result) Success() bool { return r.Error == "" }

// Runner drives one role's turn through the Anthropic API's tool-use
// loop: send messages, execute any tool calls locally, repeat until
// the model stops asking for tools or the iteration cap is hit.
type Runner struct {
	client        *Client
	timeline      *timeline.Logger
	maxIterations int
}

// NewRunner builds a Runner bound to an already-authenticated client.
func NewRunner(client *Client, tl *timeline.Logger) *Runner {
	return &Runner{client: client, timeline: tl, maxIterations: defaultMaxIterations}
}

// Invoke runs prompt to completion inside workDir under role's
// configuration, executing any tool calls the model makes against the
// local filesystem.
func (r *Runner) Invoke(ctx context.Context, prompt, workDir string, role ralphmodel.AgentRole, taskID string, cfg ralphmodel.AgentRoleConfig) Result {
	if r.timeline != nil {
		_ = r.timeline.AgentStart(taskID, string(role))
	}

	start := time.Now()
	result := r.runLoop(ctx, prompt, workDir, cfg)
	result.Duration = time.Since(start)
	result.DurationMS = result.Duration.Milliseconds()

	if r.timeline != nil {
		if result.Success() {
			_ = r.timeline.AgentComplete(taskID, string(role))
		} else {
			_ = r.timeline.AgentFailed(taskID, string(role), result.Error)
		}
	}
	return result
}

func (r *Runner) runLoop(ctx context.Context, prompt, workDir string, cfg ralphmodel.AgentRoleConfig) Result {
	executor := NewToolExecutor(workDir)

	model := r.client.Model()
	if cfg.Model != "" {
		model = r.client.TranslateModel(anthropic.Model(cfg.Model))
	}

	systemPrompt := "You are an AI assistant carrying out one task in a verified, signal-driven build loop."
	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
	}

	tools := ToolDefinitions()

	for iteration := 1; iteration <= r.maxIterations; iteration++ {
		select {
		case <-ctx.Done():
			return Result{Iterations: iteration, Error: ctx.Err().Error()}
		default:
		}

		params := anthropic.MessageNewParams{
			Model:     model,
			MaxTokens: 8192,
			System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
			Messages:  messages,
			Tools:     tools,
		}

		resp, err := r.client.sdk().Messages.New(ctx, params)
		if err != nil {
			return Result{Iterations: iteration, Error: fmt.Sprintf("api error: %v", err)}
		}
		r.client.Tracker().Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

		var assistantBlocks, toolResultBlocks []anthropic.ContentBlockParamUnion
		var finalText string

		for _, block := range resp.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				finalText += variant.Text
				assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(variant.Text))
			case anthropic.ToolUseBlock:
				toolResult := executor.Execute(ctx, variant.Name, variant.Input)
				assistantBlocks = append(assistantBlocks, anthropic.NewToolUseBlock(variant.ID, variant.Input, variant.Name))
				toolResultBlocks = append(toolResultBlocks, anthropic.NewToolResultBlock(variant.ID, toolResult.Content, toolResult.IsError))
			}
		}

		if resp.StopReason == anthropic.StopReasonEndTurn {
			input, output := r.client.Tracker().Total()
			return Result{Text: finalText, Iterations: iteration, InputTokens: input, OutputTokens: output}
		}

		messages = append(messages, anthropic.NewAssistantMessage(assistantBlocks...))
		if len(toolResultBlocks) > 0 {
			messages = append(messages, anthropic.NewUserMessage(toolResultBlocks...))
		}
	}

	return Result{Iterations: r.maxIterations, Error: fmt.Sprintf("max iterations (%d) reached without an end turn", r.maxIterations)}
}
