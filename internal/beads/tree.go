package beads

import (
	"sort"
	"strconv"
	"strings"
)

// Tree is one bead with its nested children.
type Tree struct {
	Bead
	Children []*Tree `json:"children"`
}

// BuildTree projects the flat bead list into the tree rooted at the epic for
// issueNumber. It returns nil when no epic is linked to the issue; callers
// treat that as "nothing to show", not an error. Beads rooted under other
// issues' epics never appear in the result, and a malformed parent cycle is
// cut rather than recursed into.
func BuildTree(all []Bead, issueNumber int) *Tree {
	epic := FindEpic(all, issueNumber)
	if epic == nil {
		return nil
	}

	byParent := make(map[string][]*Bead)
	for i := range all {
		b := &all[i]
		if b.Parent == "" {
			continue
		}
		byParent[b.Parent] = append(byParent[b.Parent], b)
	}

	visited := make(map[string]bool)
	return assemble(epic, byParent, visited)
}

// FindEpic returns the epic bead linked to issueNumber via its external ref,
// or nil. When several epics carry the same link the lowest id wins, keeping
// the lookup deterministic.
func FindEpic(all []Bead, issueNumber int) *Bead {
	var best *Bead
	for i := range all {
		b := &all[i]
		if b.IssueType != TypeEpic {
			continue
		}
		if !refMatchesIssue(b.ExternalRef, issueNumber) {
			continue
		}
		if best == nil || b.ID < best.ID {
			best = b
		}
	}
	return best
}

// refMatchesIssue accepts the linkage forms bd users write: "gh-42", "#42",
// or a full issue URL ending in /issues/42.
func refMatchesIssue(ref string, issueNumber int) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return false
	}
	num := strconv.Itoa(issueNumber)
	if ref == "#"+num || strings.EqualFold(ref, "gh-"+num) {
		return true
	}
	if i := strings.LastIndex(ref, "/issues/"); i >= 0 {
		tail := strings.TrimSuffix(ref[i+len("/issues/"):], "/")
		return tail == num
	}
	return false
}

func assemble(b *Bead, byParent map[string][]*Bead, visited map[string]bool) *Tree {
	if visited[b.ID] {
		return nil
	}
	visited[b.ID] = true

	kids := append([]*Bead(nil), byParent[b.ID]...)
	sort.Slice(kids, func(i, j int) bool {
		if kids[i].Priority != kids[j].Priority {
			return kids[i].Priority < kids[j].Priority
		}
		return kids[i].ID < kids[j].ID
	})

	node := &Tree{Bead: *b, Children: make([]*Tree, 0, len(kids))}
	for _, k := range kids {
		if child := assemble(k, byParent, visited); child != nil {
			node.Children = append(node.Children, child)
		}
	}
	return node
}

// CountNodes reports the number of beads in the tree.
func CountNodes(t *Tree) int {
	if t == nil {
		return 0
	}
	n := 1
	for _, c := range t.Children {
		n += CountNodes(c)
	}
	return n
}
