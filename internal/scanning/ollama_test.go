package scanning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

var _ = Describe("Ollama", func() {
	var (
		server    *ghttp.Server
		extractor *Ollama
		record    *ReceiptRecord
		err       error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		extractor = NewOllama(server.URL(), "llava-test")
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		record, err = extractor.Extract(context.Background(), EncodedImage{Data: "aGVsbG8=", MIMEType: "image/png"}, "ignored")
	})

	When("the model answers with a JSON object", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				func(w http.ResponseWriter, r *http.Request) {
					var req ollamaChatRequest
					Expect(decodeBody(r, &req)).To(Succeed())
					Expect(req.Model).To(Equal("llava-test"))
					Expect(req.Stream).To(BeFalse())
					Expect(req.Messages).To(HaveLen(2))
					Expect(req.Messages[1].Content).To(Equal(receiptScanPrompt))
					Expect(req.Messages[1].Images).To(Equal([]string{"aGVsbG8="}))
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"message": map[string]any{"role": "assistant", "content": `Here you go: {"company": "Deli", "amount": "7.25"}`},
				}),
			))
		})

		It("returns the parsed record", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(record.Company).To(Equal("Deli"))
			Expect(record.Amount).To(Equal("7.25"))
			Expect(record.Date).To(BeEmpty())
		})
	})

	When("the model is missing", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusNotFound, map[string]any{
				"error": `model "llava-test" not found, try pulling it first`,
			}))
		})

		It("returns an APIError with the message", func() {
			var apiErr *APIError
			Expect(errors.As(err, &apiErr)).To(BeTrue())
			Expect(apiErr.Message).To(ContainSubstring("not found"))
		})
	})

	When("the answer is empty", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"message": map[string]any{"role": "assistant", "content": "  "},
			}))
		})

		It("returns ErrEmptyResult", func() {
			Expect(err).To(MatchError(ErrEmptyResult))
		})
	})

	When("the answer has no JSON", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"message": map[string]any{"role": "assistant", "content": "I cannot read this receipt."},
			}))
		})

		It("returns a ParseError", func() {
			var parseErr *ParseError
			Expect(errors.As(err, &parseErr)).To(BeTrue())
		})
	})
})
