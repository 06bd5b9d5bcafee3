package scanning

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// receiptScanPrompt is the shared prompt used by all LLM providers for scanning receipts
const receiptScanPrompt = `Analyze this receipt and summarize the purchase. Read all text in the image and extract:

1. **Date**: the date of purchase, converted to YYYY-MM-DD.

2. **Company**: the name of the company or seller that issued the receipt.

3. **Details**: a concise summary of what was purchased, highlighting one or two notable items as examples.

4. **Amount**: the total amount paid, as a number without currency symbols.

Return ONLY a JSON object with exactly these keys:
{
  "date": "YYYY-MM-DD",
  "company": "Seller Name",
  "details": "Short purchase summary",
  "amount": 0.00
}

Do not include any text before or after the JSON object.`

// jsonObjectPattern matches from the first "{" to the last "}" across lines.
var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// ExtractJSONObject returns the first greedy brace-to-brace match in text.
//
// This is a heuristic: models usually wrap a single object in prose or code fences,
// but nothing guarantees the match is that object, or valid JSON at all.
func ExtractJSONObject(text string) (string, bool) {
	match := jsonObjectPattern.FindString(text)
	if match == "" {
		return "", false
	}
	return match, true
}

// recordSchema only requires an object; known keys may hold any JSON value.
var recordSchema = jsonschema.MustCompileString("receipt-record.json", `{"type": "object"}`)

// parseReceiptText extracts and decodes the receipt object from a model answer
func parseReceiptText(text string) (*ReceiptRecord, error) {
	raw, ok := ExtractJSONObject(text)
	if !ok {
		return nil, &ParseError{Reason: "no JSON object found in response"}
	}

	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, &ParseError{Reason: "invalid JSON object", Err: err}
	}
	if recordSchema.Validate(doc) != nil {
		return nil, &ParseError{Reason: "response is not a JSON object"}
	}

	fields := doc.(map[string]any)
	record := &ReceiptRecord{
		Date:    strings.TrimSpace(FormatScalar(fields["date"])),
		Company: strings.TrimSpace(FormatScalar(fields["company"])),
		Details: strings.TrimSpace(FormatScalar(fields["details"])),
	}

	// Amount keeps the scalar type the model emitted; other values become text
	switch amount := fields["amount"].(type) {
	case nil:
	case string:
		if s := strings.TrimSpace(amount); s != "" {
			record.Amount = s
		}
	case float64:
		record.Amount = amount
	default:
		record.Amount = FormatScalar(amount)
	}

	return record, nil
}
