package ollama

import (
	"strings"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/infrastructure/llm/structured"
)

const ocrInstructions = `The input is a scan or photo. Read the attached page images first and use
any document text only as a hint; scanned text layers are often garbled.
Lower the confidence of values you had to guess from blurred or cut-off print.`

func buildOCRPrompt(req domain.ExtractionRequest) structured.Prompt {
	p := structured.ExtractionPrompt(req)
	p.System = strings.Join([]string{p.System, ocrInstructions}, "\n")
	return p
}
