package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultGeminiBaseURL is the public generateContent endpoint root
const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"

// DefaultGeminiModel is used when no model is configured
const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiREST implements the Extractor interface against the Gemini REST API
type GeminiREST struct {
	baseURL string
	model   string
	client  *http.Client
	timeout time.Duration
}

// NewGeminiREST creates a new GeminiREST extractor. Empty arguments select the defaults.
func NewGeminiREST(baseURL, modelName string, client *http.Client) *GeminiREST {
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}
	if client == nil {
		client = &http.Client{}
	}
	return &GeminiREST{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   modelName,
		client:  client,
		timeout: 60 * time.Second,
	}
}

type geminiInlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

// geminiRequest represents the request body for generateContent
type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

// geminiResponse represents both the success and the error shape of generateContent
type geminiResponse struct {
	Candidates []struct {
		Content *geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Extract analyzes a receipt and extracts metadata
func (g *GeminiREST) Extract(ctx context.Context, img EncodedImage, apiKey string) (*ReceiptRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	reqBody := geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{
				{Text: receiptScanPrompt},
				{InlineData: &geminiInlineData{MIMEType: img.MIMEType, Data: img.Data}},
			},
		}},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s", g.baseURL, g.model, url.QueryEscape(apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling gemini API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var genResp geminiResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return nil, &APIError{Message: fmt.Sprintf("unreadable response (status %d)", resp.StatusCode)}
	}

	if genResp.Error != nil {
		return nil, &APIError{Message: genResp.Error.Message}
	}

	if len(genResp.Candidates) == 0 || genResp.Candidates[0].Content == nil || len(genResp.Candidates[0].Content.Parts) == 0 {
		return nil, ErrEmptyResult
	}

	var text strings.Builder
	for _, part := range genResp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	return parseReceiptText(text.String())
}

// Close is a no-op for the HTTP client
func (g *GeminiREST) Close() error {
	return nil
}
