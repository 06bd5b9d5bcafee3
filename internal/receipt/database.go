package receipt

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const settingsBucketName = "settings"

const (
	keyGeminiAPIKey      = "gemini-api-key"
	keyOAuthClientID     = "oauth-client-id"
	keyOAuthClientSecret = "oauth-client-secret"
	keySpreadsheetID     = "spreadsheet-id"
)

// SettingsStore defines the interface for persisting settings
type SettingsStore interface {
	// Load returns the stored settings; unset fields are empty
	Load() (Settings, error)

	// Save replaces the stored settings
	Save(settings Settings) error

	// Clear removes every stored setting
	Clear() error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the SettingsStore interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(settingsBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func settingsFields(s *Settings) map[string]*string {
	return map[string]*string{
		keyGeminiAPIKey:      &s.GeminiAPIKey,
		keyOAuthClientID:     &s.OAuthClientID,
		keyOAuthClientSecret: &s.OAuthClientSecret,
		keySpreadsheetID:     &s.SpreadsheetID,
	}
}

// Load returns the stored settings
func (b *BoltDB) Load() (Settings, error) {
	var settings Settings
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(settingsBucketName))
		for key, field := range settingsFields(&settings) {
			if v := bucket.Get([]byte(key)); v != nil {
				*field = string(v)
			}
		}
		return nil
	})
	if err != nil {
		return Settings{}, fmt.Errorf("loading settings: %w", err)
	}
	return settings, nil
}

// Save stores every field of settings; empty fields are removed
func (b *BoltDB) Save(settings Settings) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(settingsBucketName))
		for key, field := range settingsFields(&settings) {
			if *field == "" {
				if err := bucket.Delete([]byte(key)); err != nil {
					return fmt.Errorf("deleting %s: %w", key, err)
				}
				continue
			}
			if err := bucket.Put([]byte(key), []byte(*field)); err != nil {
				return fmt.Errorf("saving %s: %w", key, err)
			}
		}
		return nil
	})
}

// Clear removes every stored setting
func (b *BoltDB) Clear() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(settingsBucketName)); err != nil && err != bbolt.ErrBucketNotFound {
			return fmt.Errorf("deleting settings bucket: %w", err)
		}
		_, err := tx.CreateBucket([]byte(settingsBucketName))
		return err
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
