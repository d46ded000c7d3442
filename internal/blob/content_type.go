package blob

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ContentTypeFor infers a content type from the filename, falling back
// to a byte-content check, and appends a charset parameter for text
// types.
func ContentTypeFor(filename string, data []byte) string {
	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		if isTextContent(data) {
			contentType = "text/plain"
		} else {
			contentType = "application/octet-stream"
		}
	}

	// For text types the charset comes from the bytes, not from the
	// extension table's default.
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && strings.HasPrefix(mediaType, "text/") {
		return mediaType + "; charset=" + detectCharset(data)
	}
	return contentType
}

// isTextContent reports whether data looks like text: no NUL bytes in
// the first KiB and a valid UTF-8 prefix.
func isTextContent(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	sample := data
	if len(sample) > 1024 {
		sample = sample[:1024]
	}
	if bytes.IndexByte(sample, 0) >= 0 {
		return false
	}
	// A truncated multi-byte rune at the sample edge is fine; trim up
	// to three trailing bytes before validating.
	for i := 0; i < 4 && len(sample) > 0; i++ {
		if utf8.Valid(sample) {
			return true
		}
		sample = sample[:len(sample)-1]
	}
	return false
}

// detectCharset picks a charset label for text content. UTF-8 covers
// ASCII; anything else is labeled latin-1 as the safest 8-bit fallback.
func detectCharset(data []byte) string {
	if utf8.Valid(data) {
		return "utf-8"
	}
	return "iso-8859-1"
}

// decodeJSON decodes a JSON body. Split out so client code reads as one
// statement per response.
func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}
