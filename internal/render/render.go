package render

import "context"

// Input carries the three text streams of one file. Any of them may be empty and
// each may contain "[Page N]" markers, parsed independently.
type Input struct {
	Original       string
	Translated     string
	Transliterated string
	// BaseName names the output file, without extension.
	BaseName string
	Title    string
}

// Renderer turns the text streams of one file into an output document and returns its path.
type Renderer interface {
	Render(ctx context.Context, in Input) (string, error)
}
