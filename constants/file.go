package constants

import "strings"

// FileType is the detected kind of an uploaded source file.
type FileType string

const (
	FileTypeImage    FileType = "image"
	FileTypeDocument FileType = "document"
)

// imageExtensions and documentExtensions hold the allowed upload extensions.
var imageExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"webp": {},
}

var documentExtensions = map[string]struct{}{
	"pdf": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MapExtToFileType returns the file type for an extension, or "" when unsupported.
func MapExtToFileType(ext string) FileType {
	ext = NormalizeExt(ext)
	if _, ok := imageExtensions[ext]; ok {
		return FileTypeImage
	}
	if _, ok := documentExtensions[ext]; ok {
		return FileTypeDocument
	}
	return ""
}

// MIMETypeForExt returns the MIME type sent to OCR providers.
func MIMETypeForExt(ext string) string {
	switch NormalizeExt(ext) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	case "pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
