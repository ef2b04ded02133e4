package llm

import "encoding/base64"

// DataURL encodes raw bytes as a data URL.
func DataURL(b []byte, mimeType string) string {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(b)
}
