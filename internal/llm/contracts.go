package llm

import (
	"context"

	"github.com/joseph-ayodele/docs-transducer/constants"
)

// Mode selects what Transform does with the source text.
type Mode string

const (
	ModeTranslate     Mode = "translate"
	ModeTransliterate Mode = "transliterate"
)

func (m Mode) Valid() bool {
	return m == ModeTranslate || m == ModeTransliterate
}

// Result is the outcome of one Transform call. Text is set only when Status is completed.
type Result struct {
	Status constants.StageStatus
	Model  *string
	Text   *string
	Reason *string
}

// Transformer is the interface our pipeline depends on for translation and transliteration.
type Transformer interface {
	Transform(ctx context.Context, sourceText string, mode Mode) Result
}
