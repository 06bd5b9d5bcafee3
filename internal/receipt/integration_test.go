package receipt

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/receipt-sheets/internal/batch"
	"github.com/zombor/receipt-sheets/internal/scanning"
)

// geminiAnswer wraps text the way generateContent returns it
func geminiAnswer(text string) map[string]any {
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

var _ = Describe("Integration", func() {
	var (
		tempDir  string
		dbPath   string
		db       *BoltDB
		gemini   *ghttp.Server
		session  *Session
		ghServer *ghttp.Server
		err      error
	)

	openSession := func() {
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())

		extractor := scanning.NewGeminiREST(gemini.URL()+"/v1beta/models", "gemini-test", &http.Client{})
		session, err = NewSession(db, extractor, Config{RedirectURL: "http://localhost/auth/callback"})
		Expect(err).NotTo(HaveOccurred())

		server := NewServer(session, BasicAuth{}) // No auth for testing convenience
		ghServer = ghttp.NewServer()
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete} {
			ghServer.RouteToHandler(method, regexp.MustCompile(`.*`), server.Handler().ServeHTTP)
		}
	}

	closeSession := func() {
		ghServer.Close()
		Expect(session.Close()).To(Succeed())
	}

	BeforeEach(func() {
		// Create temp directory for test artifacts
		tempDir, err = os.MkdirTemp("", "receipt-sheets-test-*")
		Expect(err).NotTo(HaveOccurred())
		dbPath = filepath.Join(tempDir, "test.db")

		gemini = ghttp.NewServer()
		gemini.RouteToHandler(http.MethodPost, "/v1beta/models/gemini-test:generateContent", ghttp.CombineHandlers(
			ghttp.VerifyRequest(http.MethodPost, "/v1beta/models/gemini-test:generateContent", "key=AIzaSyIntegration"),
			ghttp.RespondWithJSONEncoded(http.StatusOK, geminiAnswer(
				"```json\n{\"date\": \"2024-03-20\", \"company\": \"Corner Pharmacy\", \"details\": \"Bandages\", \"amount\": 42.5}\n```",
			)),
		))

		openSession()
	})

	AfterEach(func() {
		closeSession()
		gemini.Close()
		os.RemoveAll(tempDir)
	})

	request := func(method, path string, body io.Reader, contentType string) *http.Response {
		req, err := http.NewRequest(method, ghServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	It("should configure, analyze a batch and produce results", func() {
		// --- Step 1: Save the API key ---
		resp := request(http.MethodPut, "/api/settings",
			strings.NewReader(`{"gemini_api_key":"AIzaSyIntegration","spreadsheet_id":"sheet-123"}`), "application/json")
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		// --- Step 2: Queue a receipt ---
		body, contentType := multipartBody(upload{"receipt.png", "image/png", "fake png"})
		resp = request(http.MethodPost, "/api/queue", body, contentType)
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		// --- Step 3: Run the batch ---
		resp = request(http.MethodPost, "/api/batch", nil, "")
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

		var snap batch.Snapshot
		Eventually(func() batch.State {
			resp := request(http.MethodGet, "/api/batch", nil, "")
			defer resp.Body.Close()
			Expect(json.NewDecoder(resp.Body).Decode(&snap)).To(Succeed())
			return snap.State
		}).Should(Equal(batch.StateIdle))

		Expect(snap.Items).To(HaveLen(1))
		Expect(snap.Items[0].Status).To(Equal(batch.StatusCompleted))
		Expect(snap.Results).To(HaveLen(1))
		Expect(snap.Results[0].Company).To(Equal("Corner Pharmacy"))

		// --- Step 4: Copy the results ---
		resp = request(http.MethodGet, "/api/results.txt", nil, "")
		text, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		Expect(err).NotTo(HaveOccurred())
		Expect(string(text)).To(Equal("Date: 2024-03-20\nCompany: Corner Pharmacy\nDetails: Bandages\nAmount: 42.5\n---"))

		// --- Step 5: Download the workbook ---
		resp = request(http.MethodGet, "/api/results.xlsx", nil, "")
		workbook, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(bytes.HasPrefix(workbook, []byte("PK"))).To(BeTrue())
	})

	It("should keep settings across restarts", func() {
		resp := request(http.MethodPut, "/api/settings",
			strings.NewReader(`{"gemini_api_key":"AIzaSyIntegration","oauth_client_id":"1.apps.googleusercontent.com"}`), "application/json")
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		closeSession()
		openSession()

		resp = request(http.MethodGet, "/api/settings", nil, "")
		var view SettingsView
		Expect(json.NewDecoder(resp.Body).Decode(&view)).To(Succeed())
		resp.Body.Close()
		Expect(view.GeminiAPIKeySet).To(BeTrue())
		Expect(view.OAuthClientID).To(Equal("1.apps.googleusercontent.com"))
	})
})
