package upload

import (
	"mime"
	"path"
	"strings"
	"unicode"
)

// KeyPrefix is the common prefix of every object key the service writes.
const KeyPrefix = "entities/"

const (
	maxNameBytes   = 200
	maxLogicalName = 255
	// maxParts is the S3 multipart part-count ceiling.
	maxParts = 10000
)

// CleanFileName turns a client supplied name into the logical file name that
// identifies a file within its owner: directory components and control
// characters are dropped and surrounding whitespace is trimmed.
func CleanFileName(name string) (string, bool) {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || name == "/" || len(name) > maxLogicalName {
		return "", false
	}
	return name, true
}

// keySegment reduces s to [A-Za-z0-9._-], collapsing whitespace runs to '_'.
func keySegment(s string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte('_')
			}
			lastSpace = true
			continue
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' || r == '_'):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		lastSpace = false
	}
	out := b.String()
	if len(out) > maxNameBytes {
		out = out[:maxNameBytes]
	}
	if out == "" || out == "." || out == ".." {
		out = "_"
	}
	return out
}

// ObjectKey builds entities/<owner>/<token>/<name>. The token makes every
// write land at a distinct key.
func ObjectKey(ownerEntityID, fileName, token string) string {
	return KeyPrefix + keySegment(ownerEntityID) + "/" + token + "/" + keySegment(fileName)
}

// FileType returns the lower-case extension without the dot.
func FileType(fileName string) string {
	ext := path.Ext(fileName)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// ContentTypeFor falls back to the extension's registered type when the
// client did not declare one.
func ContentTypeFor(fileName, declared string) string {
	if declared != "" {
		return declared
	}
	if ct := mime.TypeByExtension(path.Ext(fileName)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
