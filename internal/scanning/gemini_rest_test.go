package scanning

import (
	"context"
	"errors"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

func candidateResponse(text string) map[string]any {
	return map[string]any{
		"candidates": []any{
			map[string]any{
				"content": map[string]any{
					"parts": []any{map[string]any{"text": text}},
				},
			},
		},
	}
}

var _ = Describe("GeminiREST", func() {
	var (
		server    *ghttp.Server
		extractor *GeminiREST
		img       EncodedImage
		record    *ReceiptRecord
		err       error
	)

	const path = "/v1beta/models/gemini-test:generateContent"

	BeforeEach(func() {
		server = ghttp.NewServer()
		extractor = NewGeminiREST(server.URL()+"/v1beta/models", "gemini-test", nil)
		img = EncodedImage{Data: "aGVsbG8=", MIMEType: "image/png"}
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		record, err = extractor.Extract(context.Background(), img, "test-key")
	})

	When("the model answers with a JSON object", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, path, "key=test-key"),
				ghttp.VerifyContentType("application/json"),
				ghttp.VerifyJSONRepresenting(geminiRequest{
					Contents: []geminiContent{{
						Parts: []geminiPart{
							{Text: receiptScanPrompt},
							{InlineData: &geminiInlineData{MIMEType: "image/png", Data: "aGVsbG8="}},
						},
					}},
				}),
				ghttp.RespondWithJSONEncoded(http.StatusOK, candidateResponse(
					"Here you go: {\"date\": \"2024-05-01\", \"company\": \"REI\", \"details\": \"Tent\", \"amount\": 199.95}",
				)),
			))
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should return the embedded record", func() {
			Expect(*record).To(Equal(ReceiptRecord{
				Date:    "2024-05-01",
				Company: "REI",
				Details: "Tent",
				Amount:  199.95,
			}))
		})
	})

	When("the response carries an error object", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusBadRequest, map[string]any{
				"error": map[string]any{"code": 400, "message": "API key not valid", "status": "INVALID_ARGUMENT"},
			}))
		})

		It("returns an APIError with the message", func() {
			var apiErr *APIError
			Expect(errors.As(err, &apiErr)).To(BeTrue())
			Expect(apiErr.Message).To(Equal("API key not valid"))
		})
	})

	When("the response has no candidates", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"promptFeedback": map[string]any{"blockReason": "SAFETY"},
			}))
		})

		It("returns ErrEmptyResult", func() {
			Expect(err).To(MatchError(ErrEmptyResult))
		})
	})

	When("the candidate has no content", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"candidates": []any{map[string]any{"finishReason": "SAFETY"}},
			}))
		})

		It("returns ErrEmptyResult", func() {
			Expect(err).To(MatchError(ErrEmptyResult))
		})
	})

	When("the model answers without JSON", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, candidateResponse("I cannot read this image.")))
		})

		It("returns a ParseError", func() {
			var parseErr *ParseError
			Expect(errors.As(err, &parseErr)).To(BeTrue())
		})
	})

	When("the body is not JSON", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusBadGateway, "<html>bad gateway</html>"))
		})

		It("returns an APIError", func() {
			var apiErr *APIError
			Expect(errors.As(err, &apiErr)).To(BeTrue())
			Expect(apiErr.Message).To(ContainSubstring("502"))
		})
	})
})
