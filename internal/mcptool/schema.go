package mcptool

import (
	"bytes"
	"encoding/json"

	"github.com/comfygate/comfygate/internal/workflow"
)

// BuildSchema renders the JSON input schema for a parameter list.
// Required parameters come first, each group keeping declaration
// order, so the same workflow always publishes the same schema.
func BuildSchema(params []workflow.Param) json.RawMessage {
	ordered := make([]workflow.Param, 0, len(params))
	for _, p := range params {
		if p.Required {
			ordered = append(ordered, p)
		}
	}
	for _, p := range params {
		if !p.Required {
			ordered = append(ordered, p)
		}
	}

	var buf bytes.Buffer
	buf.WriteString(`{"type":"object","properties":{`)
	var required []string
	for i, p := range ordered {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, _ := json.Marshal(p.Name)
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(propertySchema(p))
		if p.Required {
			required = append(required, p.Name)
		}
	}
	buf.WriteByte('}')
	if len(required) > 0 {
		buf.WriteString(`,"required":`)
		names, _ := json.Marshal(required)
		buf.Write(names)
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

func propertySchema(p workflow.Param) []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	typ, _ := json.Marshal(string(p.Type))
	buf.Write(typ)
	if p.Description != "" {
		buf.WriteString(`,"description":`)
		desc, _ := json.Marshal(p.Description)
		buf.Write(desc)
	}
	if p.Default != nil {
		buf.WriteString(`,"default":`)
		def, _ := json.Marshal(p.Default)
		buf.Write(def)
	}
	buf.WriteByte('}')
	return buf.Bytes()
}
