package workflow

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeGraphFile(t *testing.T, name, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func mustParse(t *testing.T, doc, name string) *Metadata {
	t.Helper()
	g, err := ParseGraph([]byte(doc))
	if err != nil {
		t.Fatalf("ParseGraph: %v", err)
	}
	meta, err := Parse(g, name)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return meta
}

func TestParse_ParamTypes(t *testing.T) {
	doc := `{
		"1": {"class_type": "CLIPTextEncode", "inputs": {"text": "a cat"}, "_meta": {"title": "$prompt.text!:what to draw"}},
		"2": {"class_type": "KSampler", "inputs": {"steps": 20}, "_meta": {"title": "$steps.steps"}},
		"3": {"class_type": "KSampler", "inputs": {"cfg": 7.5}, "_meta": {"title": "$cfg.cfg"}},
		"4": {"class_type": "Toggle", "inputs": {"enabled": true}, "_meta": {"title": "$tiling.enabled"}}
	}`
	meta := mustParse(t, doc, "t2i")

	cases := []struct {
		name     string
		typ      ParamType
		required bool
		def      any
		desc     string
	}{
		{"prompt", TypeString, true, nil, "what to draw"},
		{"steps", TypeInt, false, int64(20), ""},
		{"cfg", TypeFloat, false, 7.5, ""},
		{"tiling", TypeBool, false, true, ""},
	}
	if len(meta.Params) != len(cases) {
		t.Fatalf("got %d params: %+v", len(meta.Params), meta.Params)
	}
	for i, c := range cases {
		p := meta.Params[i]
		if p.Name != c.name {
			t.Errorf("param[%d].Name = %q, want %q", i, p.Name, c.name)
		}
		if p.Type != c.typ {
			t.Errorf("%s: Type = %q, want %q", c.name, p.Type, c.typ)
		}
		if p.Required != c.required {
			t.Errorf("%s: Required = %v", c.name, p.Required)
		}
		if p.Default != c.def {
			t.Errorf("%s: Default = %#v, want %#v", c.name, p.Default, c.def)
		}
		if p.Description != c.desc {
			t.Errorf("%s: Description = %q", c.name, p.Description)
		}
	}
}

func TestParse_RequiredNeverHasDefault(t *testing.T) {
	doc := `{"1": {"class_type": "KSampler", "inputs": {"steps": 20}, "_meta": {"title": "$steps.steps!"}}}`
	meta := mustParse(t, doc, "t")
	p, ok := meta.Param("steps")
	if !ok {
		t.Fatal("param missing")
	}
	if !p.Required || p.Default != nil {
		t.Errorf("required = %v, default = %v", p.Required, p.Default)
	}
}

func TestParse_EdgeInputHasNoDefault(t *testing.T) {
	doc := `{"1": {"class_type": "KSampler", "inputs": {"model": ["2", 0]}, "_meta": {"title": "$model.model"}}}`
	meta := mustParse(t, doc, "t")
	p, _ := meta.Param("model")
	if p.Default != nil {
		t.Errorf("edge-backed param should have no default, got %v", p.Default)
	}
	if p.Type != TypeString {
		t.Errorf("Type = %q", p.Type)
	}
}

func TestParse_SharedParamKeepsFirstDeclaration(t *testing.T) {
	doc := `{
		"1": {"class_type": "CLIPTextEncode", "inputs": {"text": "x"}, "_meta": {"title": "$prompt.text:positive"}},
		"2": {"class_type": "OtherNode", "inputs": {"caption": "y"}, "_meta": {"title": "$prompt.caption"}}
	}`
	meta := mustParse(t, doc, "t")
	if len(meta.Params) != 1 {
		t.Fatalf("got %d params", len(meta.Params))
	}
	if meta.Params[0].Description != "positive" {
		t.Errorf("description = %q", meta.Params[0].Description)
	}
	if len(meta.Mappings) != 2 {
		t.Fatalf("got %d mappings", len(meta.Mappings))
	}
	if meta.Mappings[1].NodeID != "2" || meta.Mappings[1].Field != "caption" {
		t.Errorf("mapping[1] = %+v", meta.Mappings[1])
	}
}

func TestParse_OutputMarker(t *testing.T) {
	doc := `{
		"9": {"class_type": "SaveImage", "inputs": {}, "_meta": {"title": "$output.main"}},
		"10": {"class_type": "SaveImage", "inputs": {}, "_meta": {"title": "$output.thumb"}}
	}`
	meta := mustParse(t, doc, "t")
	if len(meta.Outputs) != 2 {
		t.Fatalf("outputs = %+v", meta.Outputs)
	}
	if meta.Outputs[0].Var != "main" || meta.Outputs[1].Var != "thumb" {
		t.Errorf("outputs = %+v", meta.Outputs)
	}
	if got := meta.OutputVar("9"); got != "main" {
		t.Errorf("OutputVar(9) = %q", got)
	}
	if got := meta.OutputVar("77"); got != "77" {
		t.Errorf("OutputVar fallback = %q", got)
	}
}

func TestParse_KnownWriterFallback(t *testing.T) {
	doc := `{
		"9": {"class_type": "SaveImage", "inputs": {}},
		"10": {"class_type": "VHS_SaveVideo", "inputs": {}},
		"11": {"class_type": "PreviewImage", "inputs": {}}
	}`
	meta := mustParse(t, doc, "t")
	if len(meta.Outputs) != 2 {
		t.Fatalf("outputs = %+v", meta.Outputs)
	}
	if meta.Outputs[0].NodeID != "9" || meta.Outputs[0].Var != "9" {
		t.Errorf("outputs[0] = %+v", meta.Outputs[0])
	}
}

func TestParse_WriterWithParamTitleStaysOutput(t *testing.T) {
	// A titled writer node is still an output; its title never turns it
	// into a parameter.
	doc := `{
		"9": {"class_type": "SaveImage", "inputs": {"filename_prefix": "out"}, "_meta": {"title": "$prefix.filename_prefix"}},
		"1": {"class_type": "KSampler", "inputs": {"steps": 20}, "_meta": {"title": "$steps.steps"}}
	}`
	meta := mustParse(t, doc, "t")
	if len(meta.Outputs) != 1 || meta.Outputs[0].NodeID != "9" || meta.Outputs[0].Var != "9" {
		t.Errorf("outputs = %+v", meta.Outputs)
	}
	if len(meta.Params) != 1 || meta.Params[0].Name != "steps" {
		t.Errorf("params = %+v", meta.Params)
	}
	if len(meta.Mappings) != 1 {
		t.Errorf("mappings = %+v", meta.Mappings)
	}
}

func TestParse_MarkedWriterSkipsFallback(t *testing.T) {
	doc := `{"9": {"class_type": "SaveImage", "inputs": {}, "_meta": {"title": "$output.main"}}}`
	meta := mustParse(t, doc, "t")
	if len(meta.Outputs) != 1 {
		t.Fatalf("outputs = %+v", meta.Outputs)
	}
}

func TestParse_MCPDescription(t *testing.T) {
	doc := `{
		"5": {"class_type": "PrimitiveString", "inputs": {"value": "  Turns text into an image.  "}, "_meta": {"title": "MCP"}},
		"9": {"class_type": "SaveImage", "inputs": {}}
	}`
	meta := mustParse(t, doc, "t")
	if meta.Description != "Turns text into an image." {
		t.Errorf("description = %q", meta.Description)
	}
}

func TestParse_MCPTextFieldSpellings(t *testing.T) {
	doc := `{"5": {"class_type": "Note", "inputs": {"Text": "does things"}, "_meta": {"title": "MCP"}}}`
	meta := mustParse(t, doc, "t")
	if meta.Description != "does things" {
		t.Errorf("description = %q", meta.Description)
	}
}

func TestParse_DuplicateMCPRejected(t *testing.T) {
	doc := `{
		"5": {"class_type": "Note", "inputs": {"value": "one"}, "_meta": {"title": "MCP"}},
		"6": {"class_type": "Note", "inputs": {"value": "two"}, "_meta": {"title": "MCP"}}
	}`
	g, err := ParseGraph([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	_, err = Parse(g, "t")
	if !errors.Is(err, ErrParseFailed) {
		t.Errorf("err = %v, want ErrParseFailed", err)
	}
}

func TestParse_InvalidToolName(t *testing.T) {
	g, _ := ParseGraph([]byte(`{}`))
	for _, name := range []string{"", "has space", "emoji🙂", "slash/name"} {
		if _, err := Parse(g, name); !errors.Is(err, ErrBadInput) {
			t.Errorf("name %q: err = %v, want ErrBadInput", name, err)
		}
	}
	for _, name := range []string{"t2i", "flux.dev", "a-b_c.9"} {
		if _, err := Parse(g, name); err != nil {
			t.Errorf("name %q: unexpected err %v", name, err)
		}
	}
}

func TestParse_UnmarkedTitlesIgnored(t *testing.T) {
	doc := `{
		"1": {"class_type": "KSampler", "inputs": {"steps": 20}, "_meta": {"title": "KSampler"}},
		"2": {"class_type": "Note", "inputs": {}, "_meta": {"title": "$not valid dsl"}}
	}`
	meta := mustParse(t, doc, "t")
	if len(meta.Params) != 0 || len(meta.Outputs) != 0 {
		t.Errorf("meta = %+v", meta)
	}
}

func TestParse_Deterministic(t *testing.T) {
	doc := `{
		"7": {"class_type": "CLIPTextEncode", "inputs": {"text": "x"}, "_meta": {"title": "$prompt.text!"}},
		"2": {"class_type": "KSampler", "inputs": {"steps": 20}, "_meta": {"title": "$steps.steps"}},
		"9": {"class_type": "SaveImage", "inputs": {}, "_meta": {"title": "$output.main"}},
		"4": {"class_type": "KSampler", "inputs": {"cfg": 7.5}, "_meta": {"title": "$cfg.cfg"}}
	}`
	first := mustParse(t, doc, "t")
	for i := 0; i < 10; i++ {
		again := mustParse(t, doc, "t")
		if len(again.Params) != len(first.Params) || len(again.Mappings) != len(first.Mappings) {
			t.Fatalf("metadata size changed between parses")
		}
		for j := range first.Params {
			if again.Params[j].Name != first.Params[j].Name {
				t.Fatalf("param order changed: %v vs %v", again.Params, first.Params)
			}
		}
		for j := range first.Mappings {
			if again.Mappings[j] != first.Mappings[j] {
				t.Fatalf("mapping order changed: %v vs %v", again.Mappings, first.Mappings)
			}
		}
	}
}

func TestParseFile_NameDefaultsToStem(t *testing.T) {
	path := writeGraphFile(t, "flux_t2i.json", `{"9": {"class_type": "SaveImage", "inputs": {}}}`)
	_, meta, err := ParseFile(path, "")
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if meta.Name != "flux_t2i" {
		t.Errorf("name = %q", meta.Name)
	}
}

func TestParseFile_Missing(t *testing.T) {
	_, _, err := ParseFile("/nonexistent/wf.json", "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
