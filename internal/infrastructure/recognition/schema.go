package recognition

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/thai-fin-ocr/internal/infrastructure/validation"
)

const pageResponseSchema = `{
  "type": "object",
  "required": ["text"],
  "properties": {
    "text": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "warnings": {"type": "array", "items": {"type": "string"}},
    "tables": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["rows"],
        "properties": {
          "headers": {"type": "array", "items": {"type": "string"}},
          "rows": {"type": "array", "items": {"type": "array", "items": {"type": "string"}}},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1}
        }
      }
    }
  }
}`

// textOnlySchema accepts a page whose text is usable even when its tables are not.
const textOnlySchema = `{
  "type": "object",
  "required": ["text"],
  "properties": {"text": {"type": "string"}}
}`

var (
	compiledPageSchema     = validation.MustCompileSchema("page.json", pageResponseSchema)
	compiledTextOnlySchema = validation.MustCompileSchema("text.json", textOnlySchema)
)

type pageResponse struct {
	Text       string      `json:"text"`
	Confidence *float64    `json:"confidence"`
	Warnings   []string    `json:"warnings"`
	Tables     []pageTable `json:"tables"`
}

type pageTable struct {
	Headers    []string   `json:"headers"`
	Rows       [][]string `json:"rows"`
	Confidence *float64   `json:"confidence"`
}

// decodePageResponse validates raw engine output. tablesOK is false when only
// the text portion passed validation.
func decodePageResponse(raw []byte) (resp pageResponse, tablesOK bool, err error) {
	var doc any
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&doc); err != nil {
		return pageResponse{}, false, fmt.Errorf("decode page response: %w", err)
	}

	if fullErr := compiledPageSchema.Validate(doc); fullErr != nil {
		if textErr := compiledTextOnlySchema.Validate(doc); textErr != nil {
			return pageResponse{}, false, fmt.Errorf("page response does not match schema: %w", fullErr)
		}
		var textOnly struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(raw, &textOnly); err != nil {
			return pageResponse{}, false, fmt.Errorf("decode page text: %w", err)
		}
		return pageResponse{
			Text:     textOnly.Text,
			Warnings: []string{fmt.Sprintf("tables rejected: %v", fullErr)},
		}, false, nil
	}

	if err := json.Unmarshal(raw, &resp); err != nil {
		return pageResponse{}, false, fmt.Errorf("decode page response: %w", err)
	}
	return resp, true, nil
}
