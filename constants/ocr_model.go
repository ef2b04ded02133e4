package constants

import (
	"fmt"
	"strings"
)

// OCRModel selects the OCR provider for a task.
type OCRModel string

const (
	// OCRModelVision is the synchronous multimodal chat API.
	OCRModelVision OCRModel = "vision"
	// OCRModelInference is the polling-based remote inference job API.
	OCRModelInference OCRModel = "inference"
)

// DefaultOCRModel is used when a task does not name one.
const DefaultOCRModel = OCRModelVision

// OCRModels lists the accepted values, in schema order.
var OCRModels = []string{string(OCRModelVision), string(OCRModelInference)}

// ParseOCRModel maps a task parameter to an OCRModel. Empty input yields the default.
func ParseOCRModel(s string) (OCRModel, error) {
	switch OCRModel(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultOCRModel, nil
	case OCRModelVision:
		return OCRModelVision, nil
	case OCRModelInference:
		return OCRModelInference, nil
	default:
		return "", fmt.Errorf("unknown ocr model %q", s)
	}
}
