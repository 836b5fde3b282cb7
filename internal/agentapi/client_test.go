package agentapi

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
)

func TestTranslateModelForBedrock_KnownModel(t *testing.T) {
	got := translateModelForBedrock(anthropic.ModelClaudeSonnet4_20250514)
	want := anthropic.Model("us.anthropic.claude-sonnet-4-20250514-v1:0")
	if got != want {
		t.Errorf("translateModelForBedrock() = %q, want %q", got, want)
	}
}

func TestTranslateModelForBedrock_UnknownModelPassesThrough(t *testing.T) {
	custom := anthropic.Model("my-custom-model")
	if got := translateModelForBedrock(custom); got != custom {
		t.Errorf("translateModelForBedrock(%q) = %q, want unchanged", custom, got)
	}
}

func TestTokenTracker_AccumulatesAcrossCalls(t *testing.T) {
	tr := NewTokenTracker()
	tr.Add(100, 50)
	tr.Add(10, 5)

	input, output := tr.Total()
	if input != 110 || output != 55 {
		t.Errorf("Total() = (%d, %d), want (110, 55)", input, output)
	}
	if tr.Calls() != 2 {
		t.Errorf("Calls() = %d, want 2", tr.Calls())
	}
}

func TestToolDefinitions_IncludesCoreFileTools(t *testing.T) {
	names := map[string]bool{}
	for _, d := range ToolDefinitions() {
		if d.OfTool != nil {
			names[d.OfTool.Name] = true
		}
	}
	for _, want := range []string{"Read", "Write", "Edit", "Bash"} {
		if !names[want] {
			t.Errorf("ToolDefinitions() missing %q", want)
		}
	}
}

func TestMinimalToolDefinitions_ReadOnly(t *testing.T) {
	defs := MinimalToolDefinitions()
	if len(defs) != 1 || defs[0].OfTool.Name != "Read" {
		t.Errorf("MinimalToolDefinitions() = %+v, want only Read", defs)
	}
}
