package ghcli

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type call struct {
	dir  string
	name string
	args []string
}

func recordingClient(outputs ...string) (*Client, *[]call) {
	calls := &[]call{}
	c := New("gh")
	c.run = func(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
		*calls = append(*calls, call{dir: dir, name: name, args: args})
		i := len(*calls) - 1
		if i >= len(outputs) {
			return []byte("{}"), nil
		}
		return []byte(outputs[i]), nil
	}
	return c, calls
}

func TestIssues(t *testing.T) {
	c, calls := recordingClient(`[
		{"number":42,"title":"Add auth","state":"OPEN","labels":[{"name":"maestro-swarm"}],"updatedAt":"2025-11-03T10:00:00Z"},
		{"number":43,"title":"Fix build","state":"OPEN"}
	]`)

	issues, err := c.Issues(context.Background(), "/repo")
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 2 || issues[0].Number != 42 || issues[0].Labels[0].Name != "maestro-swarm" {
		t.Errorf("issues = %+v", issues)
	}
	got := (*calls)[0]
	if got.dir != "/repo" || got.name != "gh" {
		t.Errorf("ran %s in %s", got.name, got.dir)
	}
	joined := strings.Join(got.args, " ")
	if !strings.HasPrefix(joined, "issue list --json ") {
		t.Errorf("args = %q", joined)
	}
}

func TestIssueView(t *testing.T) {
	c, calls := recordingClient(`{"number":42,"title":"Add auth","body":"We need login.","state":"OPEN","author":{"login":"ejohane"}}`)

	issue, err := c.Issue(context.Background(), "/repo", 42)
	if err != nil {
		t.Fatal(err)
	}
	if issue.Number != 42 || issue.Body != "We need login." || issue.Author.Login != "ejohane" {
		t.Errorf("issue = %+v", issue)
	}
	joined := strings.Join((*calls)[0].args, " ")
	if !strings.HasPrefix(joined, "issue view 42 --json ") {
		t.Errorf("args = %q", joined)
	}
}

func TestComments(t *testing.T) {
	c, _ := recordingClient(`{"comments":[{"author":{"login":"a"},"body":"first"},{"author":{"login":"b"},"body":"second"}]}`)

	comments, err := c.Comments(context.Background(), "/repo", 42)
	if err != nil {
		t.Fatal(err)
	}
	if len(comments) != 2 || comments[1].Body != "second" {
		t.Errorf("comments = %+v", comments)
	}
}

func TestAddComment(t *testing.T) {
	c, calls := recordingClient("")

	if err := c.AddComment(context.Background(), "/repo", 42, "plan posted"); err != nil {
		t.Fatal(err)
	}
	joined := strings.Join((*calls)[0].args, " ")
	if joined != "issue comment 42 --body plan posted" {
		t.Errorf("args = %q", joined)
	}

	if err := c.AddComment(context.Background(), "/repo", 42, "   "); err == nil {
		t.Error("empty comment accepted")
	}
}

func TestLabels(t *testing.T) {
	c, calls := recordingClient("", "", "")

	if err := c.AddLabel(context.Background(), "/repo", 42, "maestro-swarm"); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveLabel(context.Background(), "/repo", 42, "maestro-swarm"); err != nil {
		t.Fatal(err)
	}

	var joined []string
	for _, cl := range *calls {
		joined = append(joined, strings.Join(cl.args, " "))
	}
	if joined[0] != "label create maestro-swarm --force --color 5319E7" {
		t.Errorf("label create args = %q", joined[0])
	}
	if joined[1] != "issue edit 42 --add-label maestro-swarm" {
		t.Errorf("add-label args = %q", joined[1])
	}
	if joined[2] != "issue edit 42 --remove-label maestro-swarm" {
		t.Errorf("remove-label args = %q", joined[2])
	}
}

func TestAddLabelToleratesCreateFailure(t *testing.T) {
	var n int
	c := New("")
	c.run = func(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
		n++
		if n == 1 {
			return []byte("HTTP 403"), errors.New("exit status 1")
		}
		return nil, nil
	}
	if err := c.AddLabel(context.Background(), "/repo", 42, "maestro-swarm"); err != nil {
		t.Fatalf("AddLabel failed on create error: %v", err)
	}
	if n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}

func TestErrorCarriesOutput(t *testing.T) {
	c := New("gh")
	c.run = func(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
		return []byte("could not resolve to an Issue\n"), errors.New("exit status 1")
	}
	_, err := c.Issue(context.Background(), "/repo", 999)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "could not resolve to an Issue") {
		t.Errorf("error %q does not carry gh output", err)
	}
}
