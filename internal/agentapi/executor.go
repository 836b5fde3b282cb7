package agentapi

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ralph-orchestrator/ralph/internal/execrun"
)

// ToolExecutor runs the tool calls the model requests, scoped to one
// working directory.
type ToolExecutor struct {
	workDir string
	runner  *execrun.Runner
}

// NewToolExecutor builds a ToolExecutor rooted at workDir.
func NewToolExecutor(workDir string) *ToolExecutor {
	return &ToolExecutor{workDir: workDir, runner: execrun.NewRunner("")}
}

// ToolResult is the outcome of one tool call, fed back to the model
// as a tool_result content block.
type ToolResult struct {
	Content string
	IsError bool
}

// Execute dispatches a tool call by name.
func (e *ToolExecutor) Execute(ctx context.Context, name string, input json.RawMessage) ToolResult {
	switch name {
	case "Read":
		return e.execRead(input)
	case "Write":
		return e.execWrite(input)
	case "Edit":
		return e.execEdit(input)
	case "Bash":
		return e.execBash(ctx, input)
	default:
		return ToolResult{Content: fmt.Sprintf("unknown tool: %s", name), IsError: true}
	}
}

func (e *ToolExecutor) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(e.workDir, p)
}

func (e *ToolExecutor) execRead(input json.RawMessage) ToolResult {
	var params struct {
		FilePath string `json:"file_path"`
		Offset   int    `json:"offset"`
		Limit    int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}
	}

	content, err := os.ReadFile(e.resolvePath(params.FilePath))
	if err != nil {
		return ToolResult{Content: fmt.Sprintf("failed to read file: %v", err), IsError: true}
	}

	lines := strings.Split(string(content), "\n")
	start := 0
	if params.Offset > 0 {
		start = params.Offset - 1
		if start >= len(lines) {
			return ToolResult{Content: "offset beyond end of file", IsError: true}
		}
	}
	end := len(lines)
	if params.Limit > 0 && start+params.Limit < end {
		end = start + params.Limit
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, lines[i])
	}
	return ToolResult{Content: b.String()}
}

func (e *ToolExecutor) execWrite(input json.RawMessage) ToolResult {
	var params struct {
		FilePath string `json:"file_path"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}
	}

	path := e.resolvePath(params.FilePath)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return ToolResult{Content: fmt.Sprintf("failed to create directory: %v", err), IsError: true}
	}
	if err := os.WriteFile(path, []byte(params.Content), 0644); err != nil {
		return ToolResult{Content: fmt.Sprintf("failed to write file: %v", err), IsError: true}
	}
	return ToolResult{Content: fmt.Sprintf("wrote %d bytes to %s", len(params.Content), params.FilePath)}
}

func (e *ToolExecutor) execEdit(input json.RawMessage) ToolResult {
	var params struct {
		FilePath   string `json:"file_path"`
		OldString  string `json:"old_string"`
		NewString  string `json:"new_string"`
		ReplaceAll bool   `json:"replace_all"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}
	}

	path := e.resolvePath(params.FilePath)
	content, err := os.ReadFile(path)
	if err != nil {
		return ToolResult{Content: fmt.Sprintf("failed to read file: %v", err), IsError: true}
	}

	contentStr := string(content)
	count := strings.Count(contentStr, params.OldString)
	if count == 0 {
		return ToolResult{Content: "old_string not found in file", IsError: true}
	}
	if !params.ReplaceAll && count > 1 {
		return ToolResult{Content: fmt.Sprintf("old_string found %d times; must be unique or use replace_all", count), IsError: true}
	}

	var newContent string
	if params.ReplaceAll {
		newContent = strings.ReplaceAll(contentStr, params.OldString, params.NewString)
	} else {
		newContent = strings.Replace(contentStr, params.OldString, params.NewString, 1)
	}
	if err := os.WriteFile(path, []byte(newContent), 0644); err != nil {
		return ToolResult{Content: fmt.Sprintf("failed to write file: %v", err), IsError: true}
	}
	if params.ReplaceAll {
		return ToolResult{Content: fmt.Sprintf("replaced %d occurrences", count)}
	}
	return ToolResult{Content: "edit successful"}
}

const maxBashOutput = 30000

func (e *ToolExecutor) execBash(ctx context.Context, input json.RawMessage) ToolResult {
	var params struct {
		Command string `json:"command"`
		Timeout int    `json:"timeout"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}
	}

	timeout := 120 * time.Second
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Millisecond
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, _ := e.runner.RunShell(runCtx, e.workDir, params.Command)

	output := res.Output()
	if len(output) > maxBashOutput {
		output = output[:maxBashOutput] + "\n... (output truncated)"
	}

	if res.TimedOut {
		return ToolResult{Content: fmt.Sprintf("command timed out after %v:\n%s", timeout, output), IsError: true}
	}
	if res.ExitCode != 0 {
		return ToolResult{Content: output, IsError: true}
	}
	return ToolResult{Content: output}
}
