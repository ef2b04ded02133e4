package tasks

import (
	"bytes"

	"github.com/joseph-ayodele/docs-transducer/constants"
)

var magicBytes = []struct {
	ext       string
	signature []byte
}{
	{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
	{"jpeg", []byte{0xFF, 0xD8, 0xFF}},
	{"pdf", []byte{0x25, 0x50, 0x44, 0x46}},
}

// sniffExt returns the extension implied by the leading bytes of a file, or "".
func sniffExt(head []byte) string {
	for _, m := range magicBytes {
		if bytes.HasPrefix(head, m.signature) {
			return m.ext
		}
	}
	// RIFF....WEBP
	if len(head) >= 12 && bytes.Equal(head[:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WEBP")) {
		return "webp"
	}
	return ""
}

// detectFileType checks that the content is in the format the extension
// declares (jpg and jpeg are one format) and returns its file type.
func detectFileType(ext string, head []byte) (constants.FileType, bool) {
	declared := constants.MapExtToFileType(ext)
	if declared == "" {
		return "", false
	}
	sniffed := sniffExt(head)
	if sniffed == "" || constants.MIMETypeForExt(sniffed) != constants.MIMETypeForExt(ext) {
		return "", false
	}
	return declared, true
}
