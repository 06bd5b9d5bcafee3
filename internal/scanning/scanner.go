package scanning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ReceiptRecord contains extracted information from a receipt.
// Empty strings and a nil Amount mean the model did not provide the field.
type ReceiptRecord struct {
	Date    string `json:"date,omitempty"` // intended YYYY-MM-DD, not enforced
	Company string `json:"company,omitempty"`
	Details string `json:"details,omitempty"`
	Amount  any    `json:"amount,omitempty"` // float64 or string, as emitted
}

// Placeholder is rendered in place of an absent field.
const Placeholder = "N/A"

// DisplayDate returns the date or the placeholder
func (r ReceiptRecord) DisplayDate() string { return orPlaceholder(r.Date) }

// DisplayCompany returns the company or the placeholder
func (r ReceiptRecord) DisplayCompany() string { return orPlaceholder(r.Company) }

// DisplayDetails returns the details or the placeholder
func (r ReceiptRecord) DisplayDetails() string { return orPlaceholder(r.Details) }

// DisplayAmount returns the amount as text or the placeholder
func (r ReceiptRecord) DisplayAmount() string { return orPlaceholder(FormatScalar(r.Amount)) }

func orPlaceholder(s string) string {
	if s == "" {
		return Placeholder
	}
	return s
}

// FormatScalar renders a decoded JSON value as text. Absent values render as "",
// arrays and objects as compact JSON.
func FormatScalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any, map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

// Extractor defines the interface for receipt extraction operations
type Extractor interface {
	// Extract sends an encoded image to the model and maps its answer onto a ReceiptRecord
	Extract(ctx context.Context, img EncodedImage, apiKey string) (*ReceiptRecord, error)
	// Close releases resources held by the extractor
	Close() error
}

var (
	// ErrUnsupportedType is returned when a file is not an image
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrEmptyResult is returned when the response has no candidate output
	ErrEmptyResult = errors.New("no analysis results returned from AI")
)

// APIError is an error object reported by the extraction service
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return "extraction API error"
	}
	return "extraction API error: " + e.Message
}

// ParseError means the model answer did not contain a usable JSON object
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return "failed to parse AI response: " + e.Reason
	}
	return "failed to parse AI response: " + e.Reason + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
