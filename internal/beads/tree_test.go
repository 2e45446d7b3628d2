package beads

import (
	"reflect"
	"testing"
)

func sampleBeads() []Bead {
	return []Bead{
		{ID: "bd-1", Title: "Auth epic", IssueType: TypeEpic, ExternalRef: "gh-42", Priority: 1},
		{ID: "bd-2", Title: "Login form", IssueType: TypeTask, Parent: "bd-1", Priority: 2},
		{ID: "bd-3", Title: "Session tokens", IssueType: TypeTask, Parent: "bd-1", Priority: 0},
		{ID: "bd-4", Title: "Token refresh", IssueType: TypeTask, Parent: "bd-3", Priority: 1},
		{ID: "bd-5", Title: "Other epic", IssueType: TypeEpic, ExternalRef: "gh-99", Priority: 0},
		{ID: "bd-6", Title: "Unrelated task", IssueType: TypeTask, Parent: "bd-5", Priority: 0},
		{ID: "bd-7", Title: "Orphan task", IssueType: TypeTask, Priority: 0},
	}
}

func TestBuildTree(t *testing.T) {
	tree := BuildTree(sampleBeads(), 42)
	if tree == nil {
		t.Fatal("BuildTree returned nil for a linked epic")
	}
	if tree.ID != "bd-1" {
		t.Fatalf("root = %q, want bd-1", tree.ID)
	}
	if len(tree.Children) != 2 {
		t.Fatalf("root children = %d, want 2", len(tree.Children))
	}
	// Children sort by priority, then id.
	if tree.Children[0].ID != "bd-3" || tree.Children[1].ID != "bd-2" {
		t.Errorf("child order = %q, %q", tree.Children[0].ID, tree.Children[1].ID)
	}
	if len(tree.Children[0].Children) != 1 || tree.Children[0].Children[0].ID != "bd-4" {
		t.Errorf("grandchildren = %+v", tree.Children[0].Children)
	}
	if got := CountNodes(tree); got != 4 {
		t.Errorf("CountNodes = %d, want 4", got)
	}
}

func TestBuildTreeExcludesOtherEpics(t *testing.T) {
	tree := BuildTree(sampleBeads(), 42)
	var walk func(*Tree)
	walk = func(n *Tree) {
		if n.ID == "bd-5" || n.ID == "bd-6" || n.ID == "bd-7" {
			t.Errorf("bead %s leaked into issue 42's tree", n.ID)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(tree)
}

func TestBuildTreeNoEpic(t *testing.T) {
	if tree := BuildTree(sampleBeads(), 7); tree != nil {
		t.Fatalf("BuildTree = %+v, want nil for an unlinked issue", tree)
	}
	if tree := BuildTree(nil, 42); tree != nil {
		t.Fatalf("BuildTree = %+v, want nil for an empty store", tree)
	}
}

func TestBuildTreeIdempotent(t *testing.T) {
	beads := sampleBeads()
	a := BuildTree(beads, 42)
	b := BuildTree(beads, 42)
	if !reflect.DeepEqual(a, b) {
		t.Error("two builds over the same beads differ")
	}
}

func TestBuildTreeSurvivesCycles(t *testing.T) {
	beads := []Bead{
		{ID: "bd-1", IssueType: TypeEpic, ExternalRef: "gh-1"},
		{ID: "bd-2", IssueType: TypeTask, Parent: "bd-1"},
		// Self-referential parent.
		{ID: "bd-3", IssueType: TypeTask, Parent: "bd-3"},
		// Two-node cycle hanging off the epic.
		{ID: "bd-4", IssueType: TypeTask, Parent: "bd-5"},
		{ID: "bd-5", IssueType: TypeTask, Parent: "bd-4"},
	}
	tree := BuildTree(beads, 1)
	if tree == nil {
		t.Fatal("BuildTree returned nil")
	}
	if got := CountNodes(tree); got != 2 {
		t.Errorf("CountNodes = %d, want 2 (epic + bd-2)", got)
	}

	// An epic inside a cycle still terminates.
	cyclic := []Bead{
		{ID: "bd-1", IssueType: TypeEpic, ExternalRef: "gh-1", Parent: "bd-2"},
		{ID: "bd-2", IssueType: TypeTask, Parent: "bd-1"},
	}
	if tree := BuildTree(cyclic, 1); CountNodes(tree) != 2 {
		t.Errorf("cyclic epic tree CountNodes = %d, want 2", CountNodes(tree))
	}
}

func TestFindEpicRefForms(t *testing.T) {
	cases := []struct {
		ref   string
		issue int
		want  bool
	}{
		{"gh-42", 42, true},
		{"GH-42", 42, true},
		{"#42", 42, true},
		{"https://github.com/ejohane/app/issues/42", 42, true},
		{"https://github.com/ejohane/app/issues/42/", 42, true},
		{"gh-421", 42, false},
		{"#421", 42, false},
		{"https://github.com/ejohane/app/issues/421", 42, false},
		{"https://github.com/ejohane/app/pull/42", 42, false},
		{"", 42, false},
		{"gh-42", 7, false},
	}
	for _, tc := range cases {
		beads := []Bead{{ID: "bd-1", IssueType: TypeEpic, ExternalRef: tc.ref}}
		got := FindEpic(beads, tc.issue) != nil
		if got != tc.want {
			t.Errorf("FindEpic(ref=%q, issue=%d) found=%v, want %v", tc.ref, tc.issue, got, tc.want)
		}
	}
}

func TestFindEpicDeterministicTieBreak(t *testing.T) {
	beads := []Bead{
		{ID: "bd-9", IssueType: TypeEpic, ExternalRef: "gh-42"},
		{ID: "bd-2", IssueType: TypeEpic, ExternalRef: "#42"},
		{ID: "bd-5", IssueType: TypeEpic, ExternalRef: "gh-42"},
	}
	epic := FindEpic(beads, 42)
	if epic == nil || epic.ID != "bd-2" {
		t.Fatalf("epic = %+v, want bd-2", epic)
	}
}

func TestFindEpicIgnoresNonEpics(t *testing.T) {
	beads := []Bead{
		{ID: "bd-1", IssueType: TypeTask, ExternalRef: "gh-42"},
		{ID: "bd-2", IssueType: TypeBug, ExternalRef: "gh-42"},
	}
	if epic := FindEpic(beads, 42); epic != nil {
		t.Fatalf("epic = %+v, want nil", epic)
	}
}
