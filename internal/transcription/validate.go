package transcription

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"call-audit-go/internal/common"
)

// MaxFileSize is the largest recording the speech service accepts.
const MaxFileSize int64 = 1 << 30

// SupportedFormats maps each accepted extension to its MIME types.
var SupportedFormats = map[string][]string{
	"wav":   {"audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave"},
	"mp3":   {"audio/mpeg", "audio/mp3", "audio/mpeg3", "audio/x-mpeg-3"},
	"ogg":   {"audio/ogg", "audio/x-ogg", "application/ogg"},
	"flac":  {"audio/flac", "audio/x-flac"},
	"wma":   {"audio/x-ms-wma"},
	"aac":   {"audio/aac", "audio/x-aac", "audio/mp4"},
	"webm":  {"audio/webm"},
	"amr":   {"audio/amr", "audio/amr-wb"},
	"speex": {"audio/speex", "audio/x-speex", "audio/ogg"},
}

// Extension returns the lower-case extension without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// MIMEAllowed reports whether contentType is acceptable for ext. Generic
// binary types are accepted since many clients send them for any upload.
func MIMEAllowed(ext, contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if ct == "" || ct == "application/octet-stream" {
		return true
	}
	for _, m := range SupportedFormats[ext] {
		if m == ct {
			return true
		}
	}
	return false
}

// ValidateFile checks existence, size and format before anything leaves the host.
func ValidateFile(path string, maxSize int64) error {
	if maxSize <= 0 {
		maxSize = MaxFileSize
	}
	info, err := os.Stat(path)
	if err != nil {
		return common.NewValidationError("file", filepath.Base(path), "audio file not found")
	}
	if info.IsDir() {
		return common.NewValidationError("file", filepath.Base(path), "path is a directory")
	}
	if info.Size() == 0 {
		return common.NewValidationError("file", filepath.Base(path), "audio file is empty")
	}
	if info.Size() > maxSize {
		return common.NewValidationError("file", filepath.Base(path),
			fmt.Sprintf("file is %d bytes, limit is %d", info.Size(), maxSize))
	}
	ext := Extension(path)
	if _, ok := SupportedFormats[ext]; !ok {
		return common.NewValidationError("file", filepath.Base(path), "unsupported audio format ."+ext)
	}
	return nil
}
