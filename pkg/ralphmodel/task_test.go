package ralphmodel

import "testing"

func TestTaskList_Sort(t *testing.T) {
	tl := &TaskList{Tasks: []Task{
		{ID: "T-003", Priority: 2},
		{ID: "T-001", Priority: 1},
		{ID: "T-002", Priority: 1},
	}}

	tl.Sort()

	want := []string{"T-001", "T-002", "T-003"}
	for i, id := range want {
		if tl.Tasks[i].ID != id {
			t.Errorf("Tasks[%d].ID = %q, want %q", i, tl.Tasks[i].ID, id)
		}
	}
}

func TestTaskList_ByID(t *testing.T) {
	tl := &TaskList{Tasks: []Task{{ID: "T-001", Title: "first"}}}

	got, ok := tl.ByID("T-001")
	if !ok || got.Title != "first" {
		t.Fatalf("ByID(T-001) = %+v, %v", got, ok)
	}

	if _, ok := tl.ByID("missing"); ok {
		t.Error("ByID(missing) should report false")
	}
}

func TestTaskList_MarkPasses(t *testing.T) {
	tl := &TaskList{Tasks: []Task{{ID: "T-001", Passes: false}}}

	if !tl.MarkPasses("T-001") {
		t.Fatal("MarkPasses(T-001) = false, want true")
	}
	got, _ := tl.ByID("T-001")
	if !got.Passes {
		t.Error("task T-001 should have Passes=true")
	}

	if tl.MarkPasses("missing") {
		t.Error("MarkPasses(missing) should report false")
	}
}

func TestTaskList_Pending(t *testing.T) {
	tl := &TaskList{Tasks: []Task{
		{ID: "T-001", Passes: true},
		{ID: "T-002", Passes: false},
		{ID: "T-003", Passes: false},
	}}

	pending := tl.Pending()
	if len(pending) != 2 {
		t.Fatalf("Pending() returned %d tasks, want 2", len(pending))
	}
	if pending[0].ID != "T-002" || pending[1].ID != "T-003" {
		t.Errorf("Pending() = %+v, want T-002, T-003", pending)
	}
}
