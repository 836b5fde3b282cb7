package agentapi

import "github.com/anthropics/anthropic-sdk-go"

// ToolDefinitions returns the file-editing and shell tool schemas
// given to the model. Trimmed from the CLI backend's full tool set
// (no Glob/Grep/ListDir) because the API backend's agentic loop only
// needs to read, write, edit, and run shell commands to act on a task.
func ToolDefinitions() []anthropic.ToolUnionParam {
	return []anthropic.ToolUnionParam{
		{
			OfTool: &anthropic.ToolParam{
				Name:        "Read",
				Description: anthropic.String("Read a file from the filesystem. Returns file contents with line numbers."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"file_path": map[string]interface{}{"type": "string", "description": "Path to the file to read"},
						"offset":    map[string]interface{}{"type": "integer", "description": "Line number to start reading from (1-indexed, optional)"},
						"limit":     map[string]interface{}{"type": "integer", "description": "Maximum number of lines to read (optional)"},
					},
					Required: []string{"file_path"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        "Write",
				Description: anthropic.String("Write content to a file. Creates parent directories if needed."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"file_path": map[string]interface{}{"type": "string", "description": "Path to the file to write"},
						"content":   map[string]interface{}{"type": "string", "description": "Content to write to the file"},
					},
					Required: []string{"file_path", "content"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        "Edit",
				Description: anthropic.String("Edit a file by replacing text. old_string must be unique unless replace_all is true."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"file_path":   map[string]interface{}{"type": "string", "description": "Path to the file to edit"},
						"old_string":  map[string]interface{}{"type": "string", "description": "The exact text to find and replace"},
						"new_string":  map[string]interface{}{"type": "string", "description": "The text to replace it with"},
						"replace_all": map[string]interface{}{"type": "boolean", "description": "If true, replace all occurrences (default: false)"},
					},
					Required: []string{"file_path", "old_string", "new_string"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        "Bash",
				Description: anthropic.String("Execute a shell command and return its combined output."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"command": map[string]interface{}{"type": "string", "description": "The shell command to execute"},
						"timeout": map[string]interface{}{"type": "integer", "description": "Timeout in milliseconds (optional, default 120000)"},
					},
					Required: []string{"command"},
				},
			},
		},
	}
}

// MinimalToolDefinitions is the read-only subset of ToolDefinitions
// (Read only). Runner does not use it: every role's turn is given the
// full ToolDefinitions set.
func MinimalToolDefinitions() []anthropic.ToolUnionParam {
	defs := ToolDefinitions()
	out := make([]anthropic.ToolUnionParam, 0, 1)
	for _, d := range defs {
		if d.OfTool != nil && d.OfTool.Name == "Read" {
			out = append(out, d)
		}
	}
	return out
}
