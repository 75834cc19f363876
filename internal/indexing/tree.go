package indexing

import (
	"sort"

	"docflow/internal/models"

	"github.com/google/uuid"
)

// nodeNamespace seeds instance node IDs, which are derived from the node's
// path so incremental maintenance and a rebuild name nodes identically.
var nodeNamespace = uuid.MustParse("5b0d3c6e-7a52-4f0e-9a43-2f1b8f0c9d11")

func rootNodeID(templateID string) string {
	return uuid.NewSHA1(nodeNamespace, []byte(templateID+"/")).String()
}

func childNodeID(parentID, templateNodeID, value string) string {
	return uuid.NewSHA1(nodeNamespace, []byte(parentID+"/"+templateNodeID+"/"+value)).String()
}

// tree is a mutable view of one template's instance nodes.
type tree struct {
	templateID string
	rootID     string
	nodes      map[string]*models.IndexInstanceNode
}

func loadTree(templateID, rootTemplateNodeID string, nodes []models.IndexInstanceNode) *tree {
	t := &tree{
		templateID: templateID,
		rootID:     rootNodeID(templateID),
		nodes:      make(map[string]*models.IndexInstanceNode, len(nodes)+1),
	}
	for i := range nodes {
		n := nodes[i]
		n.DocumentIDs = append([]string(nil), n.DocumentIDs...)
		t.nodes[n.ID] = &n
	}
	if _, ok := t.nodes[t.rootID]; !ok {
		t.nodes[t.rootID] = &models.IndexInstanceNode{
			ID:             t.rootID,
			TemplateID:     templateID,
			TemplateNodeID: rootTemplateNodeID,
			TreeID:         templateID,
		}
	}
	return t
}

// removeDocument drops id from every node.
func (t *tree) removeDocument(id string) {
	for _, n := range t.nodes {
		if i := sort.SearchStrings(n.DocumentIDs, id); i < len(n.DocumentIDs) && n.DocumentIDs[i] == id {
			n.DocumentIDs = append(n.DocumentIDs[:i], n.DocumentIDs[i+1:]...)
		}
	}
}

// ensure returns the child of parentID for (templateNodeID, value),
// creating it if absent.
func (t *tree) ensure(parentID, templateNodeID, value string) *models.IndexInstanceNode {
	id := childNodeID(parentID, templateNodeID, value)
	if n, ok := t.nodes[id]; ok {
		return n
	}
	n := &models.IndexInstanceNode{
		ID:             id,
		TemplateID:     t.templateID,
		TemplateNodeID: templateNodeID,
		ParentID:       parentID,
		Value:          value,
		TreeID:         t.templateID,
	}
	t.nodes[id] = n
	return n
}

func (t *tree) link(n *models.IndexInstanceNode, documentID string) {
	i := sort.SearchStrings(n.DocumentIDs, documentID)
	if i < len(n.DocumentIDs) && n.DocumentIDs[i] == documentID {
		return
	}
	n.DocumentIDs = append(n.DocumentIDs, "")
	copy(n.DocumentIDs[i+1:], n.DocumentIDs[i:])
	n.DocumentIDs[i] = documentID
}

func (t *tree) children() map[string][]*models.IndexInstanceNode {
	out := map[string][]*models.IndexInstanceNode{}
	for _, n := range t.nodes {
		if n.ID == t.rootID {
			continue
		}
		out[n.ParentID] = append(out[n.ParentID], n)
	}
	for _, c := range out {
		sort.Slice(c, func(i, j int) bool {
			if c[i].Value == c[j].Value {
				return c[i].ID < c[j].ID
			}
			return c[i].Value < c[j].Value
		})
	}
	return out
}

// collect deletes, bottom-up, every non-root node without documents or
// children. Nodes whose parent vanished are dropped too.
func (t *tree) collect() {
	kids := t.children()
	var visit func(id string) bool
	reachable := map[string]struct{}{}
	visit = func(id string) bool {
		reachable[id] = struct{}{}
		alive := false
		for _, c := range kids[id] {
			if visit(c.ID) {
				alive = true
			}
		}
		n := t.nodes[id]
		if id == t.rootID || alive || len(n.DocumentIDs) > 0 {
			return true
		}
		delete(t.nodes, id)
		return false
	}
	visit(t.rootID)
	for id := range t.nodes {
		if _, ok := reachable[id]; !ok {
			delete(t.nodes, id)
		}
	}
}

// flatten renumbers the nested set depth first, children ordered by value,
// and returns the nodes in lft order.
func (t *tree) flatten() []models.IndexInstanceNode {
	kids := t.children()
	out := make([]models.IndexInstanceNode, 0, len(t.nodes))
	counter := 0
	var walk func(n *models.IndexInstanceNode, level int)
	walk = func(n *models.IndexInstanceNode, level int) {
		counter++
		n.Lft = counter
		n.Level = level
		n.TreeID = t.templateID
		idx := len(out)
		out = append(out, models.IndexInstanceNode{})
		for _, c := range kids[n.ID] {
			walk(c, level+1)
		}
		counter++
		n.Rght = counter
		if len(n.DocumentIDs) == 0 {
			n.DocumentIDs = nil
		}
		out[idx] = *n
	}
	walk(t.nodes[t.rootID], 0)
	return out
}

// subtree returns the nodes inside n by nested-set range, n included.
func subtree(nodes []models.IndexInstanceNode, n models.IndexInstanceNode) []models.IndexInstanceNode {
	var out []models.IndexInstanceNode
	for _, x := range nodes {
		if x.TreeID == n.TreeID && x.Lft >= n.Lft && x.Rght <= n.Rght {
			out = append(out, x)
		}
	}
	return out
}
