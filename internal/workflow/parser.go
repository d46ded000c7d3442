package workflow

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
)

// ParamType is the JSON schema type of a tool parameter.
type ParamType string

const (
	TypeInt    ParamType = "integer"
	TypeFloat  ParamType = "number"
	TypeBool   ParamType = "boolean"
	TypeString ParamType = "string"
)

// Param is one declared tool parameter.
type Param struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required,omitempty"`
	Default     any       `json:"default,omitempty"`
}

// Mapping ties a parameter to the graph location it rewrites.
type Mapping struct {
	ParamName string `json:"param"`
	NodeID    string `json:"node"`
	Field     string `json:"field"`
	ClassType string `json:"class_type"`
}

// OutputMapping names the result variable a writer node's files are
// grouped under.
type OutputMapping struct {
	NodeID string `json:"node"`
	Var    string `json:"var"`
}

// Metadata is the tool-facing description derived from a graph's node
// titles. Params and mappings keep graph document order.
type Metadata struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Params      []Param         `json:"params,omitempty"`
	Mappings    []Mapping       `json:"mappings,omitempty"`
	Outputs     []OutputMapping `json:"outputs,omitempty"`
}

// Param returns the declared parameter with the given name.
func (m *Metadata) Param(name string) (*Param, bool) {
	for i := range m.Params {
		if m.Params[i].Name == name {
			return &m.Params[i], true
		}
	}
	return nil, false
}

// OutputVar returns the result variable for a node id, falling back to
// the node id itself for nodes outside the output mappings.
func (m *Metadata) OutputVar(nodeID string) string {
	for _, o := range m.Outputs {
		if o.NodeID == nodeID {
			return o.Var
		}
	}
	return nodeID
}

var (
	paramTitleRe = regexp.MustCompile(`^\$([A-Za-z_][A-Za-z0-9_]*)\.([A-Za-z_][A-Za-z0-9_]*)(!)?(?::(.+))?$`)
	toolNameRe   = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

const outputMarkerPrefix = "$output."

// knownWriterTypes are node classes whose files count as results even
// without an explicit $output marker.
var knownWriterTypes = map[string]bool{
	"SaveImage":     true,
	"SaveVideo":     true,
	"SaveAudio":     true,
	"VHS_SaveVideo": true,
	"VHS_SaveAudio": true,
}

// mediaUploadTypes are loader classes whose string input may arrive as
// a URL that must be fetched and pushed to the engine's media store
// before submission.
var mediaUploadTypes = map[string]bool{
	"LoadImage":           true,
	"VHS_LoadAudioUpload": true,
	"VHS_LoadVideo":       true,
}

// Parse derives tool metadata from node titles. name becomes the tool
// name and must satisfy the tool naming rules.
func Parse(g *Graph, name string) (*Metadata, error) {
	if !toolNameRe.MatchString(name) {
		return nil, fmt.Errorf("%w: tool name %q may only contain letters, digits, underscore, dot and hyphen", ErrBadInput, name)
	}

	meta := &Metadata{Name: name}
	sawMCP := false

	for _, id := range g.NodeIDs() {
		title := strings.TrimSpace(g.Title(id))
		classType := g.ClassType(id)

		if rest, ok := strings.CutPrefix(title, outputMarkerPrefix); ok {
			meta.Outputs = append(meta.Outputs, OutputMapping{NodeID: id, Var: rest})
			continue
		}

		// Writer nodes are outputs no matter what else the title says;
		// only an explicit $output marker renames their variable.
		if knownWriterTypes[classType] {
			meta.Outputs = append(meta.Outputs, OutputMapping{NodeID: id, Var: id})
			continue
		}

		if m := paramTitleRe.FindStringSubmatch(title); m != nil {
			paramName, field, required, desc := m[1], m[2], m[3] == "!", strings.TrimSpace(m[4])
			meta.Mappings = append(meta.Mappings, Mapping{
				ParamName: paramName,
				NodeID:    id,
				Field:     field,
				ClassType: classType,
			})
			if _, exists := meta.Param(paramName); exists {
				continue
			}
			meta.Params = append(meta.Params, buildParam(paramName, desc, required, g.Inputs(id)[field], id, field))
			continue
		}

		if title == "MCP" {
			if sawMCP {
				return nil, fmt.Errorf("%w: more than one MCP description node", ErrParseFailed)
			}
			sawMCP = true
			meta.Description = mcpDescription(g.Inputs(id))
		}
	}

	return meta, nil
}

// ParseFile loads a graph file and parses its metadata. An empty name
// defaults to the file stem.
func ParseFile(path, name string) (*Graph, *Metadata, error) {
	g, err := LoadGraph(path)
	if err != nil {
		return nil, nil, err
	}
	if name == "" {
		base := filepath.Base(path)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	meta, err := Parse(g, name)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, meta, nil
}

// buildParam infers the parameter type and default from the authored
// input value. A required parameter never carries a default; a graph
// edge in the slot yields no default either.
func buildParam(name, desc string, required bool, value any, nodeID, field string) Param {
	p := Param{Name: name, Description: desc, Required: required, Type: inferType(value)}
	if required {
		return p
	}
	if def, ok := defaultFor(value); ok {
		p.Default = def
	} else {
		slog.Warn("optional parameter has no usable default",
			"param", name, "node", nodeID, "field", field)
	}
	return p
}

func inferType(value any) ParamType {
	switch v := value.(type) {
	case bool:
		return TypeBool
	case json.Number:
		if strings.ContainsAny(v.String(), ".eE") {
			return TypeFloat
		}
		return TypeInt
	case float64:
		if v == float64(int64(v)) {
			return TypeInt
		}
		return TypeFloat
	default:
		return TypeString
	}
}

// defaultFor converts an authored input value into a schema default.
// Edges (two-element [node, slot] arrays) and missing values have none.
func defaultFor(value any) (any, bool) {
	switch v := value.(type) {
	case nil:
		return nil, false
	case []any:
		return nil, false
	case json.Number:
		if strings.ContainsAny(v.String(), ".eE") {
			f, err := v.Float64()
			return f, err == nil
		}
		i, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			return f, ferr == nil
		}
		return i, true
	default:
		return v, true
	}
}

// mcpDescription pulls the tool description out of an MCP node's
// inputs, accepting the common text field spellings in preference
// order.
func mcpDescription(inputs map[string]any) string {
	for _, want := range []string{"value", "text", "string"} {
		for key, v := range inputs {
			if strings.ToLower(key) != want {
				continue
			}
			if s, ok := v.(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}
