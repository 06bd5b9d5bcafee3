package batch

import (
	"fmt"
	"strings"

	"github.com/zombor/receipt-sheets/internal/scanning"
)

// FormatText renders records as plain text for copying to the clipboard
func FormatText(records []scanning.ReceiptRecord) string {
	blocks := make([]string, 0, len(records))
	for _, r := range records {
		blocks = append(blocks, fmt.Sprintf("Date: %s\nCompany: %s\nDetails: %s\nAmount: %s\n---",
			r.DisplayDate(), r.DisplayCompany(), r.DisplayDetails(), r.DisplayAmount()))
	}
	return strings.Join(blocks, "\n")
}
