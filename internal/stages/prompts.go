package stages

import (
	"fmt"
	"strings"
)

// --- Extraction Model Prompts ---
const ExtractionSystemPrompt = "You are a document data extraction engine. You read scanned business documents and return the requested fields as a single valid JSON value that conforms to the provided schema. Accuracy is of utmost importance: never invent values that are not present in the document."
const extractionInstructions = `Follow these rules precisely:
1.  Use the JSON schema below to decide which fields to extract and their types.
2.  If a field is not present in the document, use null. Do not guess.
3.  Preserve numbers, dates and identifiers exactly as printed.
4.  Return ONLY the JSON value. Do not include any text before or after it and do not wrap it in backtick fences.`

// --- Evaluation Model Prompts ---
const EvaluationSystemPrompt = "You are a meticulous reviewer of extracted document data. You compare extracted values against the source page images and score how confident you are that each value is correct."
const evaluationInstructions = `You will be given the page images of a document, the JSON schema used for extraction, and the extracted JSON.

Return a JSON value with exactly the same structure as the extracted JSON, where every leaf value is replaced by a number between 0 and 1 expressing your confidence that the extracted value is correct (1 means certain, 0 means certainly wrong).
Do not change keys, do not add or remove array elements, and return ONLY the JSON value.`

// --- Summary Model Prompts ---
const SummarySystemPrompt = "You are a document analyst. You classify documents and write short factual summaries."
const summaryInstructions = `Read the document content below and respond with a JSON object with exactly two keys:
    - "classification": a short label for the kind of document (for example "invoice", "purchase order", "bank statement", "contract").
    - "summary": a concise natural-language summary of the document in at most five sentences.
Return ONLY the JSON object.`

func extractionPrompt(datasetPrompt, schema, ocrText string, imageCount int) string {
	var sb strings.Builder
	if datasetPrompt != "" {
		sb.WriteString(datasetPrompt)
		sb.WriteString("\n\n")
	}
	sb.WriteString(extractionInstructions)
	sb.WriteString("\n\nJSON schema:\n")
	sb.WriteString(schema)
	if imageCount > 0 {
		fmt.Fprintf(&sb, "\n\n%d page image(s) of the document are attached.", imageCount)
	}
	if ocrText != "" {
		sb.WriteString("\n\nOCR text of the document:\n")
		sb.WriteString(ocrText)
	}
	return sb.String()
}

func evaluationPrompt(schema, extracted string) string {
	return fmt.Sprintf("%s\n\nJSON schema:\n%s\n\nExtracted JSON:\n%s", evaluationInstructions, schema, extracted)
}

func summaryPrompt(text string) string {
	return summaryInstructions + "\n\nDocument content:\n" + text
}
