package workflow

import (
	"encoding/json"
	"strings"
	"testing"
)

const sampleGraph = `{
	"3": {"class_type": "KSampler", "inputs": {"seed": 42, "cfg": 7.5, "model": ["1", 0]}, "_meta": {"title": "$seed.seed"}},
	"1": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "sd15.safetensors"}},
	"9": {"class_type": "SaveImage", "inputs": {"images": ["3", 0]}, "_meta": {"title": "$output.main"}}
}`

func TestParseGraph_KeyOrder(t *testing.T) {
	g, err := ParseGraph([]byte(sampleGraph))
	if err != nil {
		t.Fatalf("ParseGraph: %v", err)
	}
	ids := g.NodeIDs()
	want := []string{"3", "1", "9"}
	if len(ids) != len(want) {
		t.Fatalf("NodeIDs = %v", ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("NodeIDs[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestParseGraph_NumbersSurviveRoundTrip(t *testing.T) {
	g, err := ParseGraph([]byte(sampleGraph))
	if err != nil {
		t.Fatalf("ParseGraph: %v", err)
	}
	seed := g.Inputs("3")["seed"]
	n, ok := seed.(json.Number)
	if !ok {
		t.Fatalf("seed = %T, want json.Number", seed)
	}
	if n.String() != "42" {
		t.Errorf("seed = %q", n)
	}
	encoded, err := json.Marshal(g.Nodes())
	if err != nil {
		t.Fatal(err)
	}
	if want := `"seed":42`; !strings.Contains(string(encoded), want) {
		t.Errorf("encoded graph lost integer form: %s", encoded)
	}
}

func TestParseGraph_NotAnObject(t *testing.T) {
	if _, err := ParseGraph([]byte(`[1, 2]`)); err == nil {
		t.Fatal("expected error")
	}
}

func TestDeepCopy_Isolated(t *testing.T) {
	g, err := ParseGraph([]byte(sampleGraph))
	if err != nil {
		t.Fatalf("ParseGraph: %v", err)
	}
	clone := g.DeepCopy()
	if err := clone.SetInput("3", "seed", int64(7)); err != nil {
		t.Fatalf("SetInput: %v", err)
	}
	if got := g.Inputs("3")["seed"].(json.Number); got.String() != "42" {
		t.Errorf("original mutated: seed = %v", got)
	}
	if got := clone.Inputs("3")["seed"].(int64); got != 7 {
		t.Errorf("clone seed = %v", got)
	}
}

func TestSetInput_UnknownNode(t *testing.T) {
	g, _ := ParseGraph([]byte(sampleGraph))
	if err := g.SetInput("99", "seed", 1); err == nil {
		t.Fatal("expected error")
	}
}

func TestGraphAccessors(t *testing.T) {
	g, _ := ParseGraph([]byte(sampleGraph))
	if got := g.ClassType("9"); got != "SaveImage" {
		t.Errorf("ClassType = %q", got)
	}
	if got := g.Title("9"); got != "$output.main" {
		t.Errorf("Title = %q", got)
	}
	if got := g.Title("1"); got != "" {
		t.Errorf("Title for untitled node = %q", got)
	}
}
