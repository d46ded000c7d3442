package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// Graph is a decoded workflow graph in the engine's API format: a JSON
// object mapping node id to node record. Node ids keep the order they
// had in the source document so derived schemas come out the same on
// every load.
type Graph struct {
	nodes map[string]map[string]any
	order []string
}

// ParseGraph decodes graph JSON. Numbers are kept as json.Number so
// integer inputs survive a decode/encode round trip unchanged.
func ParseGraph(data []byte) (*Graph, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var nodes map[string]map[string]any
	if err := dec.Decode(&nodes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}
	order, err := topLevelKeys(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}
	return &Graph{nodes: nodes, order: order}, nil
}

// LoadGraph reads and decodes a graph file.
func LoadGraph(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	g, err := ParseGraph(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// NodeIDs returns node ids in document order.
func (g *Graph) NodeIDs() []string {
	return g.order
}

// Node returns the raw record for a node id.
func (g *Graph) Node(id string) (map[string]any, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns the raw node map, suitable for submission to the
// engine. Mutations are visible to the graph.
func (g *Graph) Nodes() map[string]any {
	out := make(map[string]any, len(g.nodes))
	for id, n := range g.nodes {
		out[id] = n
	}
	return out
}

// ClassType returns a node's class_type, or "" when absent.
func (g *Graph) ClassType(id string) string {
	n, ok := g.nodes[id]
	if !ok {
		return ""
	}
	s, _ := n["class_type"].(string)
	return s
}

// Title returns a node's _meta.title, or "" when absent.
func (g *Graph) Title(id string) string {
	n, ok := g.nodes[id]
	if !ok {
		return ""
	}
	meta, ok := n["_meta"].(map[string]any)
	if !ok {
		return ""
	}
	s, _ := meta["title"].(string)
	return s
}

// Inputs returns a node's inputs map, or nil when absent.
func (g *Graph) Inputs(id string) map[string]any {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	in, _ := n["inputs"].(map[string]any)
	return in
}

// SetInput writes one input field on a node, creating the inputs map
// when the node has none.
func (g *Graph) SetInput(id, field string, value any) error {
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: node %s", ErrNotFound, id)
	}
	in, ok := n["inputs"].(map[string]any)
	if !ok {
		in = map[string]any{}
		n["inputs"] = in
	}
	in[field] = value
	return nil
}

// DeepCopy clones the graph so one invocation's parameter writes never
// leak into another.
func (g *Graph) DeepCopy() *Graph {
	nodes := make(map[string]map[string]any, len(g.nodes))
	for id, n := range g.nodes {
		nodes[id] = copyMap(n)
	}
	order := make([]string, len(g.order))
	copy(order, g.order)
	return &Graph{nodes: nodes, order: order}
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	default:
		// Scalars and json.Number are immutable.
		return v
	}
}

// topLevelKeys scans the document's top-level object keys in order.
func topLevelKeys(data []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("graph document is not a JSON object")
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v in graph object", tok)
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}
