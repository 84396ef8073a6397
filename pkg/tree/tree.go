// Package tree provides pure queries over a snapshot of a workflow's nodes.
package tree

import (
	"fmt"
	"sort"
	"strings"

	"github.com/satchwsm/backbeat/pkg/models"
)

// Children returns the nodes whose parent is parentID in insertion order.
// A nil parentID selects the workflow's top-level nodes.
func Children(nodes []*models.Node, parentID *string) []*models.Node {
	var children []*models.Node

	for _, node := range nodes {
		if sameParent(node.ParentID, parentID) {
			children = append(children, node)
		}
	}

	sort.SliceStable(children, func(i, j int) bool {
		return children[i].Seq < children[j].Seq
	})

	return children
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	return *a == *b
}

// NotComplete returns the children whose server status is not complete.
func NotComplete(children []*models.Node) []*models.Node {
	var result []*models.Node

	for _, child := range children {
		if child.CurrentServerStatus != models.ServerComplete {
			result = append(result, child)
		}
	}

	return result
}

// AllChildrenReady reports whether no child is still pending.
func AllChildrenReady(children []*models.Node) bool {
	for _, child := range children {
		if child.CurrentServerStatus == models.ServerPending {
			return false
		}
	}

	return true
}

// AllChildrenComplete reports whether every child is complete.
func AllChildrenComplete(children []*models.Node) bool {
	return len(NotComplete(children)) == 0
}

// Deactivated reports whether the node or any of its ancestors is deactivated.
func Deactivated(node *models.Node, ancestors []*models.Node) bool {
	if node.CurrentServerStatus == models.ServerDeactivated {
		return true
	}

	for _, ancestor := range ancestors {
		if ancestor.CurrentServerStatus == models.ServerDeactivated {
			return true
		}
	}

	return false
}

// Ancestors walks parent links from node up to the workflow root using the
// snapshot. The nearest ancestor comes first.
func Ancestors(nodes []*models.Node, node *models.Node) []*models.Node {
	byID := make(map[string]*models.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	var ancestors []*models.Node

	seen := map[string]bool{node.ID: true}

	for parentID := node.ParentID; parentID != nil; {
		parent, ok := byID[*parentID]
		if !ok || seen[parent.ID] {
			break
		}

		seen[parent.ID] = true
		ancestors = append(ancestors, parent)
		parentID = parent.ParentID
	}

	return ancestors
}

// Descendants returns every node below node, children before grandchildren.
func Descendants(nodes []*models.Node, node *models.Node) []*models.Node {
	var result []*models.Node

	queue := []*models.Node{node}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		id := current.ID
		for _, child := range Children(nodes, &id) {
			result = append(result, child)
			queue = append(queue, child)
		}
	}

	return result
}

// Tree is a nested view of a workflow or node and everything below it.
type Tree struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	ServerStatus string  `json:"current_server_status,omitempty"`
	ClientStatus string  `json:"current_client_status,omitempty"`
	Children     []*Tree `json:"children"`
}

// Build assembles the tree of a workflow from a snapshot of its nodes.
func Build(workflow *models.Workflow, nodes []*models.Node) *Tree {
	return &Tree{
		ID:       workflow.ID,
		Name:     workflow.Name,
		Type:     string(models.SubjectWorkflow),
		Children: build(nodes, nil),
	}
}

// BuildNode assembles the subtree rooted at node.
func BuildNode(node *models.Node, nodes []*models.Node) *Tree {
	id := node.ID

	return &Tree{
		ID:           node.ID,
		Name:         node.Name,
		Type:         string(node.Kind()),
		ServerStatus: string(node.CurrentServerStatus),
		ClientStatus: string(node.CurrentClientStatus),
		Children:     build(nodes, &id),
	}
}

func build(nodes []*models.Node, parentID *string) []*Tree {
	children := Children(nodes, parentID)
	result := make([]*Tree, 0, len(children))

	for _, child := range children {
		result = append(result, BuildNode(child, nodes))
	}

	return result
}

// Print renders the tree as indented text, one node per line.
func Print(t *Tree) string {
	var b strings.Builder

	render(&b, t, 0)

	return b.String()
}

func render(b *strings.Builder, t *Tree, depth int) {
	indent := strings.Repeat("   ", depth)

	if t.ServerStatus == "" {
		fmt.Fprintf(b, "%s%s (%s)\n", indent, t.Name, t.ID)
	} else {
		fmt.Fprintf(b, "%s%s %s (server: %s, client: %s)\n", indent, t.Type, t.Name, t.ServerStatus, t.ClientStatus)
	}

	for _, child := range t.Children {
		render(b, child, depth+1)
	}
}
