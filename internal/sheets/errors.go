package sheets

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks problems with the export request caught before any remote call
	ErrValidation = errors.New("validation error")

	ErrMissingSpreadsheet = fmt.Errorf("%w: please enter a Google Sheet ID in the configuration", ErrValidation)
	ErrMissingSheetName   = fmt.Errorf("%w: please enter a sheet name", ErrValidation)
	ErrNoRecords          = fmt.Errorf("%w: no results to export", ErrValidation)
	ErrNotSignedIn        = fmt.Errorf("%w: please sign in with Google first", ErrValidation)
	ErrExportInProgress   = fmt.Errorf("%w: an export is already in progress", ErrValidation)
	ErrSheetExists        = fmt.Errorf("%w: a sheet with that name already exists", ErrValidation)
	ErrSheetNotFound      = fmt.Errorf("%w: sheet not found", ErrValidation)

	// ErrUnauthorized is returned when Google rejected the bearer token.
	// The token has already been invalidated when this is returned.
	ErrUnauthorized = errors.New("session expired, sign in again")
)

// MetadataError is a failed read of spreadsheet metadata or content
type MetadataError struct {
	Op  string
	Err error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *MetadataError) Unwrap() error {
	return e.Err
}

// MutationError is a failed write to the spreadsheet
type MutationError struct {
	Op  string
	Err error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *MutationError) Unwrap() error {
	return e.Err
}
