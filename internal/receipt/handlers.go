package receipt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zombor/receipt-sheets/internal/auth"
	"github.com/zombor/receipt-sheets/internal/batch"
	"github.com/zombor/receipt-sheets/internal/scanning"
	"github.com/zombor/receipt-sheets/internal/sheets"
)

// maxUploadSize bounds a whole multipart selection (high-resolution phone photos add up)
const maxUploadSize = int64(50 << 20)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes v as a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError maps err onto a status code and writes it as {"error": "..."}
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := err.Error()

	var metaErr *sheets.MetadataError
	var mutErr *sheets.MutationError
	switch {
	case errors.Is(err, batch.ErrValidation),
		errors.Is(err, sheets.ErrValidation),
		errors.Is(err, ErrInvalidSettings),
		errors.Is(err, auth.ErrMissingClientConfig),
		errors.Is(err, auth.ErrConsentDenied),
		errors.Is(err, auth.ErrUnknownState):
		status = http.StatusBadRequest
		message = strings.TrimPrefix(message, "validation error: ")
	case errors.Is(err, sheets.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, batch.ErrItemNotFound), errors.Is(err, ErrNoResults):
		status = http.StatusNotFound
	case errors.Is(err, scanning.ErrUnsupportedType):
		status = http.StatusUnsupportedMediaType
	case errors.As(err, &metaErr), errors.As(err, &mutErr):
		status = http.StatusBadGateway
		message = "Failed to export to Google Sheets: " + err.Error()
	default:
		slog.Error("Request failed", "error", err)
	}

	writeJSON(w, status, map[string]string{"error": message})
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Settings())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var settings Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	if err := s.session.SaveSettings(settings); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Settings())
}

func (s *Server) handleDeleteSettings(w http.ResponseWriter, r *http.Request) {
	if err := s.session.ClearSettings(); err != nil {
		writeError(w, err)
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleEnqueue replaces the queue with the uploaded files
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorMsg = "Files are too large. Maximum total size is 50MB."
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errorMsg})
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No files were selected. Please choose files to upload."})
		return
	}

	files := make([]scanning.File, 0, len(headers))
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			slog.Error("Error opening uploaded file", "error", err, "filename", header.Filename)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Error reading file. Please try again."})
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			slog.Error("Error reading file data", "error", err, "filename", header.Filename)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Error reading file. Please try again."})
			return
		}
		files = append(files, scanning.File{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	accepted, err := s.session.Enqueue(files)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accepted": accepted,
		"message":  fmt.Sprintf("%d file(s) ready for analysis.", accepted),
		"batch":    s.session.Batch(),
	})
}

func (s *Server) handleResetQueue(w http.ResponseWriter, r *http.Request) {
	s.session.ResetQueue()
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleStartBatch starts processing; a request while a batch runs is accepted but ignored
func (s *Server) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	started, err := s.session.StartBatch(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"started": started})
}

// handleGetBatch serves the batch snapshot, answering 304 while it is unchanged
func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	etag := fmt.Sprintf(`"batch-%d"`, s.session.BatchVersion())
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if r.Header.Get("If-None-Match") == etag {
		setCORSHeaders(w)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Batch())
}

// handlePreview serves the encoded image of a queued item
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	img, err := s.session.Preview(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	data, err := base64.StdEncoding.DecodeString(img.Data)
	if err != nil {
		writeError(w, fmt.Errorf("decoding preview: %w", err))
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", img.MIMEType)
	w.Write(data)
}

// handleResultsText serves the results as clipboard text
func (s *Server) handleResultsText(w http.ResponseWriter, r *http.Request) {
	text, err := s.session.ResultsText()
	if err != nil {
		writeError(w, err)
		return
	}
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, text)
}

// handleResultsWorkbook serves the results as an XLSX download
func (s *Server) handleResultsWorkbook(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.session.WriteWorkbook(&buf); err != nil {
		writeError(w, err)
		return
	}
	setCORSHeaders(w)
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="receipts.xlsx"`)
	w.Write(buf.Bytes())
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"signed_in": s.session.IsSignedIn()})
}

// handleSignIn redirects the browser to Google's consent screen
func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	authURL, err := s.session.BeginSignIn(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleCallback receives the consent redirect and returns to the page
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if err := s.session.CompleteSignIn(r.Context(), q.Get("state"), q.Get("code"), q.Get("error")); err != nil {
		slog.Warn("Sign-in failed", "error", err)
		writeError(w, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.session.SignOut(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSheets(w http.ResponseWriter, r *http.Request) {
	list, err := s.session.ListSheets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleExport appends the results to a sheet
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SheetName string `json:"sheet_name"`
		IsNew     bool   `json:"is_new"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	result, err := s.session.Export(r.Context(), req.SheetName, req.IsNew)
	if err != nil {
		writeError(w, err)
		return
	}

	response := map[string]any{
		"sheet":          result.Sheet,
		"created":        result.Created,
		"header_written": result.HeaderWritten,
		"rows_appended":  result.RowsAppended,
		"message":        fmt.Sprintf("Success! %d row(s) added to Google Sheet.", result.RowsAppended),
	}
	if result.FormattingErr != nil {
		response["warning"] = "The header row was written but could not be formatted: " + result.FormattingErr.Error()
	}
	writeJSON(w, http.StatusOK, response)
}
