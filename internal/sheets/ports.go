package sheets

import (
	"context"
	"strconv"
	"time"

	"ninja/internal/core"
)

// Ports for outbound adapters.
type (
	// EntryMirror keeps a spreadsheet copy of the ledger, one row per entry
	// keyed by entry ID.
	EntryMirror interface {
		UpsertEntry(ctx context.Context, e core.Entry) (rowRef string, err error)
		// DeleteEntry is a no-op when the row is already gone.
		DeleteEntry(ctx context.Context, id int64) error
		PurgeUser(ctx context.Context, userID string) (removed int, err error)
	}
)

// Columns is the header row of the mirror sheet, A through L.
var Columns = []string{
	"ID", "User", "Date", "Time", "Type", "Source",
	"Amount", "Miles", "Minutes", "Order ID", "Note", "Receipt",
}

// EntryRow renders an entry as a mirror row with local date and time.
func EntryRow(e core.Entry, loc *time.Location) []any {
	if loc == nil {
		loc = time.UTC
	}
	local := e.Timestamp.In(loc)
	amount, _ := e.Amount.Decimal().Float64()
	if e.Type == core.Expense || e.Type == core.Cancellation {
		amount = -amount
	}
	return []any{
		strconv.FormatInt(e.ID, 10),
		e.UserID,
		local.Format("2006-01-02"),
		local.Format("15:04"),
		string(e.Type),
		e.DisplaySource(),
		amount,
		e.DistanceMiles,
		e.DurationMinutes,
		e.OrderID,
		e.Note,
		e.ReceiptURL,
	}
}
