package workflow

import (
	"path"
	"sort"
	"strings"

	"github.com/comfygate/comfygate/internal/comfy"
)

// viewFunc renders an engine download URL for an output file record.
type viewFunc func(filename, subfolder, fileType string) string

var (
	imageExts = extSet(".png", ".jpg", ".jpeg", ".webp", ".bmp", ".tiff")
	videoExts = extSet(".mp4", ".mov", ".avi", ".webm", ".gif")
	audioExts = extSet(".mp3", ".wav", ".flac", ".ogg", ".aac", ".m4a", ".wma", ".opus")
)

func extSet(exts ...string) map[string]bool {
	m := make(map[string]bool, len(exts))
	for _, e := range exts {
		m[e] = true
	}
	return m
}

// buildResult turns raw per-node outputs into a completed Result.
// Nodes with an output mapping come first in mapping order, then any
// unmapped nodes in sorted id order, so flat lists are stable across
// runs.
func buildResult(outputs map[string]comfy.NodeOutput, meta *Metadata, view viewFunc) *Result {
	r := &Result{Status: StatusCompleted, Outputs: outputs}

	seen := map[string]bool{}
	for _, om := range meta.Outputs {
		if out, ok := outputs[om.NodeID]; ok && !seen[om.NodeID] {
			seen[om.NodeID] = true
			collectNode(r, om.Var, out, view)
		}
	}
	var rest []string
	for id := range outputs {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	for _, id := range rest {
		collectNode(r, meta.OutputVar(id), outputs[id], view)
	}
	return r
}

// collectNode files one node's output record under the given result
// variable. Media records are sorted into images, videos and audios by
// filename extension, with the record key deciding files the extension
// tables do not know.
func collectNode(r *Result, outVar string, out comfy.NodeOutput, view viewFunc) {
	for _, key := range []string{"images", "gifs", "audio"} {
		records, ok := out[key].([]any)
		if !ok {
			continue
		}
		for _, rec := range records {
			m, ok := rec.(map[string]any)
			if !ok {
				continue
			}
			filename, _ := m["filename"].(string)
			if filename == "" {
				continue
			}
			subfolder, _ := m["subfolder"].(string)
			fileType, _ := m["type"].(string)
			url := view(filename, subfolder, fileType)

			switch bucketFor(filename, key) {
			case "images":
				r.Images = append(r.Images, url)
				r.ImagesByVar = appendVar(r.ImagesByVar, outVar, url)
			case "videos":
				r.Videos = append(r.Videos, url)
				r.VideosByVar = appendVar(r.VideosByVar, outVar, url)
			case "audios":
				r.Audios = append(r.Audios, url)
				r.AudiosByVar = appendVar(r.AudiosByVar, outVar, url)
			}
		}
	}

	switch text := out["text"].(type) {
	case string:
		r.Texts = append(r.Texts, text)
		r.TextsByVar = appendVar(r.TextsByVar, outVar, text)
	case []any:
		for _, item := range text {
			if s, ok := item.(string); ok {
				r.Texts = append(r.Texts, s)
				r.TextsByVar = appendVar(r.TextsByVar, outVar, s)
			}
		}
	}
}

func bucketFor(filename, recordKey string) string {
	ext := strings.ToLower(path.Ext(filename))
	switch {
	case imageExts[ext]:
		return "images"
	case videoExts[ext]:
		return "videos"
	case audioExts[ext]:
		return "audios"
	}
	switch recordKey {
	case "gifs":
		return "videos"
	case "audio":
		return "audios"
	default:
		return "images"
	}
}

func appendVar(m map[string][]string, key, url string) map[string][]string {
	if m == nil {
		m = map[string][]string{}
	}
	m[key] = append(m[key], url)
	return m
}
