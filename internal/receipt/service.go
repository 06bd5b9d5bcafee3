package receipt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zombor/receipt-sheets/internal/auth"
	"github.com/zombor/receipt-sheets/internal/batch"
	"github.com/zombor/receipt-sheets/internal/scanning"
	"github.com/zombor/receipt-sheets/internal/sheets"
)

const defaultSignInTimeout = 5 * time.Minute

// Config holds the collaborators and fallbacks of a Session
type Config struct {
	// Defaults fill settings the user has not stored
	Defaults Settings

	// RedirectURL is the absolute URL of the OAuth callback route
	RedirectURL string

	Encoder       *scanning.Encoder
	IDGenerator   batch.IDGenerator
	AuthOptions   []auth.Option
	SheetsOptions []sheets.Option
	SignInTimeout time.Duration
	Logger        *slog.Logger
}

// Session owns everything one user of the app works with: settings, the
// batch of queued receipts, the Google sign-in and the sheet export
type Session struct {
	store         SettingsStore
	defaults      Settings
	extractor     scanning.Extractor
	processor     *batch.Processor
	auth          *auth.Manager
	exporter      *sheets.Exporter
	signInTimeout time.Duration
	logger        *slog.Logger

	mu       sync.RWMutex
	settings Settings

	// batchVersion counts batch transitions; pollers use it to skip unchanged snapshots
	batchVersion atomic.Uint64
}

// NewSession creates a Session, loading stored settings from store
func NewSession(store SettingsStore, extractor scanning.Extractor, cfg Config) (*Session, error) {
	stored, err := store.Load()
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.SignInTimeout
	if timeout <= 0 {
		timeout = defaultSignInTimeout
	}

	s := &Session{
		store:         store,
		defaults:      cfg.Defaults.Normalize(),
		extractor:     extractor,
		signInTimeout: timeout,
		logger:        logger,
		settings:      stored,
	}

	s.processor = batch.NewProcessor(extractor,
		batch.WithLogger(logger),
		batch.WithEncoder(cfg.Encoder),
		batch.WithIDGenerator(cfg.IDGenerator),
		batch.WithObserver(s.observeBatch),
	)
	s.auth = auth.NewManager(s, cfg.RedirectURL, append([]auth.Option{auth.WithLogger(logger)}, cfg.AuthOptions...)...)
	s.exporter = sheets.NewExporter(s.auth, append([]sheets.Option{sheets.WithLogger(logger)}, cfg.SheetsOptions...)...)

	return s, nil
}

func (s *Session) observeBatch(snap batch.Snapshot) {
	s.batchVersion.Add(1)
	for _, it := range snap.Items {
		if it.Status == batch.StatusProcessing {
			s.logger.Debug("Processing receipt", "id", it.ID, "filename", it.Filename)
		}
	}
}

// effective returns the stored settings with defaults filled in
func (s *Session) effective() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.WithFallback(s.defaults)
}

// Settings returns the effective settings with secrets masked
func (s *Session) Settings() SettingsView {
	return s.effective().view()
}

// SaveSettings validates and stores settings. An empty API key or client
// secret keeps the stored value, since the browser never sees them.
func (s *Session) SaveSettings(update Settings) error {
	update = update.Normalize()
	if err := update.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if update.GeminiAPIKey == "" {
		update.GeminiAPIKey = s.settings.GeminiAPIKey
	}
	if update.OAuthClientSecret == "" {
		update.OAuthClientSecret = s.settings.OAuthClientSecret
	}
	if err := s.store.Save(update); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	s.settings = update

	s.logger.Info("Settings saved")
	return nil
}

// ClearSettings removes every stored setting
func (s *Session) ClearSettings() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Clear(); err != nil {
		return fmt.Errorf("clearing settings: %w", err)
	}
	s.settings = Settings{}

	s.logger.Info("Settings cleared")
	return nil
}

// OAuthClient returns the configured OAuth client credentials
func (s *Session) OAuthClient() (string, string) {
	settings := s.effective()
	return settings.OAuthClientID, settings.OAuthClientSecret
}

// Enqueue replaces the queue with the image files among files
func (s *Session) Enqueue(files []scanning.File) (int, error) {
	return s.processor.Enqueue(files)
}

// ResetQueue discards the queue and the results
func (s *Session) ResetQueue() {
	s.processor.Reset()
}

// StartBatch processes the queue in the background with the configured API key.
// The batch outlives ctx's cancellation.
func (s *Session) StartBatch(ctx context.Context) (bool, error) {
	return s.processor.Start(context.WithoutCancel(ctx), s.effective().GeminiAPIKey)
}

// Batch returns the current queue, item states and results
func (s *Session) Batch() batch.Snapshot {
	return s.processor.Snapshot()
}

// BatchVersion changes whenever the batch snapshot may have changed
func (s *Session) BatchVersion() uint64 {
	return s.batchVersion.Load()
}

// Preview returns the encoded image of a queued item
func (s *Session) Preview(id string) (scanning.EncodedImage, error) {
	return s.processor.Preview(id)
}

// ResultsText renders the results for the clipboard
func (s *Session) ResultsText() (string, error) {
	results := s.processor.Results()
	if len(results) == 0 {
		return "", ErrNoResults
	}
	return batch.FormatText(results), nil
}

// WriteWorkbook writes the results as an XLSX workbook
func (s *Session) WriteWorkbook(w io.Writer) error {
	results := s.processor.Results()
	if len(results) == 0 {
		return ErrNoResults
	}
	return sheets.WriteWorkbook(w, results)
}

// IsSignedIn reports whether a Google token is held
func (s *Session) IsSignedIn() bool {
	return s.auth.IsAuthorized()
}

// BeginSignIn starts a consent flow and returns the URL to send the user to.
// The flow stays open until the callback arrives or the sign-in timeout passes.
func (s *Session) BeginSignIn(ctx context.Context) (string, error) {
	urls := make(chan string, 1)
	done := make(chan error, 1)

	go func() {
		waitCtx, cancel := context.WithTimeout(context.Background(), s.signInTimeout)
		defer cancel()

		err := s.auth.RequestToken(waitCtx, auth.PromptFunc(func(_ context.Context, authURL string) error {
			urls <- authURL
			return nil
		}))
		if err != nil && !errors.Is(err, auth.ErrMissingClientConfig) {
			s.logger.Warn("Sign-in did not complete", "error", err)
		}
		done <- err
	}()

	select {
	case authURL := <-urls:
		return authURL, nil
	case err := <-done:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// CompleteSignIn finishes the consent flow from the OAuth callback
func (s *Session) CompleteSignIn(ctx context.Context, state, code, consentErr string) error {
	return s.auth.Complete(ctx, state, code, consentErr)
}

// SignOut drops and revokes the Google token
func (s *Session) SignOut(ctx context.Context) error {
	if err := s.auth.Revoke(ctx); err != nil {
		s.logger.Warn("Failed to revoke token", "error", err)
	}
	return nil
}

// ListSheets returns the sheets of the configured spreadsheet
func (s *Session) ListSheets(ctx context.Context) ([]sheets.Sheet, error) {
	return s.exporter.ListSheets(ctx, s.effective().SpreadsheetID)
}

// Export appends the results to the named sheet of the configured spreadsheet
func (s *Session) Export(ctx context.Context, sheetName string, isNew bool) (*sheets.Result, error) {
	target := sheets.Target{
		SpreadsheetID: s.effective().SpreadsheetID,
		SheetName:     sheetName,
		IsNew:         isNew,
	}
	return s.exporter.Export(ctx, target, s.processor.Results())
}

// Close releases the extractor and the settings store
func (s *Session) Close() error {
	return errors.Join(s.extractor.Close(), s.store.Close())
}
