package receipt

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidSettings marks settings rejected before they are saved
	ErrInvalidSettings = errors.New("invalid settings")

	// ErrNoResults is returned when results are requested before any receipt was extracted
	ErrNoResults = errors.New("no results yet")
)

// Settings is the user configuration persisted between runs
type Settings struct {
	GeminiAPIKey      string `json:"gemini_api_key"`
	OAuthClientID     string `json:"oauth_client_id"`
	OAuthClientSecret string `json:"oauth_client_secret"`
	SpreadsheetID     string `json:"spreadsheet_id"`
}

// Normalize trims surrounding whitespace from every field
func (s Settings) Normalize() Settings {
	return Settings{
		GeminiAPIKey:      strings.TrimSpace(s.GeminiAPIKey),
		OAuthClientID:     strings.TrimSpace(s.OAuthClientID),
		OAuthClientSecret: strings.TrimSpace(s.OAuthClientSecret),
		SpreadsheetID:     strings.TrimSpace(s.SpreadsheetID),
	}
}

// Validate catches credentials pasted into the wrong field
func (s Settings) Validate() error {
	if strings.Contains(s.GeminiAPIKey, ".apps.googleusercontent.com") {
		return fmt.Errorf("%w: it looks like you pasted an OAuth client ID into the Gemini API key field", ErrInvalidSettings)
	}
	if strings.HasPrefix(s.OAuthClientID, "AIzaSy") {
		return fmt.Errorf("%w: it looks like you pasted a Gemini API key into the OAuth client ID field", ErrInvalidSettings)
	}
	return nil
}

// WithFallback fills empty fields from fallback
func (s Settings) WithFallback(fallback Settings) Settings {
	pick := func(v, def string) string {
		if v != "" {
			return v
		}
		return def
	}
	return Settings{
		GeminiAPIKey:      pick(s.GeminiAPIKey, fallback.GeminiAPIKey),
		OAuthClientID:     pick(s.OAuthClientID, fallback.OAuthClientID),
		OAuthClientSecret: pick(s.OAuthClientSecret, fallback.OAuthClientSecret),
		SpreadsheetID:     pick(s.SpreadsheetID, fallback.SpreadsheetID),
	}
}

// SettingsView is Settings as shown to the browser, with secrets masked
type SettingsView struct {
	GeminiAPIKeySet      bool   `json:"gemini_api_key_set"`
	OAuthClientID        string `json:"oauth_client_id"`
	OAuthClientSecretSet bool   `json:"oauth_client_secret_set"`
	SpreadsheetID        string `json:"spreadsheet_id"`
}

func (s Settings) view() SettingsView {
	return SettingsView{
		GeminiAPIKeySet:      s.GeminiAPIKey != "",
		OAuthClientID:        s.OAuthClientID,
		OAuthClientSecretSet: s.OAuthClientSecret != "",
		SpreadsheetID:        s.SpreadsheetID,
	}
}
