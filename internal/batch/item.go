package batch

import (
	"github.com/zombor/receipt-sheets/internal/scanning"
)

// Status is the processing state of a queued item
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// State is the state of the batch as a whole
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Item is one file in the queue. Result is set iff Status is completed,
// Error iff Status is failed.
type Item struct {
	ID      string
	File    scanning.File
	Encoded *scanning.EncodedImage
	Status  Status
	Result  *scanning.ReceiptRecord
	Error   string
}

// ItemView is a read-only copy of an item without its file bytes
type ItemView struct {
	ID          string                  `json:"id"`
	Filename    string                  `json:"filename"`
	ContentType string                  `json:"content_type"`
	Status      Status                  `json:"status"`
	Result      *scanning.ReceiptRecord `json:"result,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

// Snapshot is a consistent copy of the processor state
type Snapshot struct {
	State   State                    `json:"state"`
	Items   []ItemView               `json:"items"`
	Results []scanning.ReceiptRecord `json:"results"`
}

func (it *Item) view() ItemView {
	v := ItemView{
		ID:          it.ID,
		Filename:    it.File.Name,
		ContentType: it.File.ContentType,
		Status:      it.Status,
		Error:       it.Error,
	}
	if it.Result != nil {
		r := *it.Result
		v.Result = &r
	}
	return v
}
