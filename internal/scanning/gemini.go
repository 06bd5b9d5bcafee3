package scanning

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements the Extractor interface using the Google Gemini SDK.
// A client is created per call because the API key is supplied by the caller.
type Gemini struct {
	model string
	opts  []option.ClientOption
}

// NewGemini creates a new Gemini Extractor instance
func NewGemini(modelName string, opts ...option.ClientOption) *Gemini {
	if modelName == "" {
		modelName = DefaultGeminiModel
	}
	return &Gemini{
		model: modelName,
		opts:  opts,
	}
}

// Extract analyzes a receipt and extracts metadata
func (g *Gemini) Extract(ctx context.Context, img EncodedImage, apiKey string) (*ReceiptRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	imageData, err := base64.StdEncoding.DecodeString(img.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding image payload: %w", err)
	}

	opts := append([]option.ClientOption{option.WithAPIKey(apiKey)}, g.opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	defer client.Close()

	// genai.ImageData expects just the format suffix (e.g., "png"), not the full MIME type
	parts := []genai.Part{
		genai.Text(receiptScanPrompt),
		genai.ImageData(strings.TrimPrefix(img.MIMEType, "image/"), imageData),
	}

	resp, err := client.GenerativeModel(g.model).GenerateContent(ctx, parts...)
	if err != nil {
		return nil, &APIError{Message: err.Error()}
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, ErrEmptyResult
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	return parseReceiptText(responseText.String())
}

// Close is a no-op; clients are closed after each call
func (g *Gemini) Close() error {
	return nil
}
