package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/comfygate/comfygate/internal/comfy"
)

// Status is the terminal state of a workflow invocation.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusTimeout   Status = "timeout"
	// StatusProcessing marks a job that has been submitted but not yet
	// reached a terminal state; it never appears in a returned Result.
	StatusProcessing Status = "processing"
)

// Result is the outcome of one invocation. Flat media lists are the
// concatenation of the per-variable lists in output mapping order.
type Result struct {
	Status   Status  `json:"status"`
	PromptID string  `json:"prompt_id,omitempty"`
	Duration float64 `json:"duration,omitempty"`

	Images []string `json:"images,omitempty"`
	Videos []string `json:"videos,omitempty"`
	Audios []string `json:"audios,omitempty"`
	Texts  []string `json:"texts,omitempty"`

	ImagesByVar map[string][]string `json:"images_by_var,omitempty"`
	VideosByVar map[string][]string `json:"videos_by_var,omitempty"`
	AudiosByVar map[string][]string `json:"audios_by_var,omitempty"`
	TextsByVar  map[string][]string `json:"texts_by_var,omitempty"`

	Outputs map[string]comfy.NodeOutput `json:"outputs,omitempty"`
	Msg     string                      `json:"msg,omitempty"`
}

// ToLLMText renders the result as a short line for a model to read.
// When a media kind spans several output variables the per-variable map
// is shown so the model can tell the files apart.
func (r *Result) ToLLMText() string {
	if r.Status != StatusCompleted {
		return fmt.Sprintf("Generated failed, status: %s, message: %s", r.Status, r.Msg)
	}

	var b strings.Builder
	b.WriteString("Generated successfully")
	writeKind(&b, "images", r.Images, r.ImagesByVar)
	writeKind(&b, "videos", r.Videos, r.VideosByVar)
	writeKind(&b, "audios", r.Audios, r.AudiosByVar)
	writeKind(&b, "texts", r.Texts, r.TextsByVar)
	return b.String()
}

func writeKind(b *strings.Builder, label string, flat []string, byVar map[string][]string) {
	if len(flat) == 0 {
		return
	}
	var rendered []byte
	if len(byVar) > 1 {
		// json.Marshal sorts map keys, keeping the line stable.
		rendered, _ = json.Marshal(byVar)
	} else {
		rendered, _ = json.Marshal(flat)
	}
	fmt.Fprintf(b, ", %s: %s", label, rendered)
}
