// Package export renders entries and their rollup as a CSV download.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"ninja/internal/core"
)

// Title is the first line of every export.
const Title = "EARNINGS PRO - DATA EXPORT"

const (
	exportDateLayout = "01/02/2006, 03:04:05 PM"
	rowDateLayout    = "01/02/2006, 03:04 PM"
)

var transactionHeader = []string{"Date", "Type", "Platform/Category", "Amount", "Miles", "Note"}

// Summary is the rollup slice printed above the transactions.
type Summary struct {
	Revenue  core.Money
	Expenses core.Money
	Profit   core.Money
	Miles    float64
}

// Document is one export.
type Document struct {
	Timeframe string // display label, e.g. "This Week"
	Summary   Summary
	Entries   []core.Entry
	// GeneratedAt and Location control every rendered date.
	GeneratedAt time.Time
	Location    *time.Location
}

// Write streams the document as CSV.
func Write(w io.Writer, doc Document) error {
	loc := doc.Location
	if loc == nil {
		loc = time.UTC
	}
	cw := csv.NewWriter(w)

	preamble := [][]string{
		{Title},
		{"Timeframe", doc.Timeframe},
		{"Export Date", doc.GeneratedAt.In(loc).Format(exportDateLayout)},
		{},
		{"SUMMARY"},
		{"Revenue", signedDollars(doc.Summary.Revenue)},
		{"Expenses", signedDollars(doc.Summary.Expenses)},
		{"Profit", signedDollars(doc.Summary.Profit)},
		{"Miles", fmt.Sprintf("%.1f", doc.Summary.Miles)},
		{},
		{"TRANSACTIONS"},
		transactionHeader,
	}
	if err := cw.WriteAll(preamble); err != nil {
		return fmt.Errorf("write preamble: %w", err)
	}

	for _, e := range doc.Entries {
		if err := cw.Write(Row(e, loc)); err != nil {
			return fmt.Errorf("write entry %d: %w", e.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Bytes renders the document into memory.
func Bytes(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Row is the transaction line of a single entry.
func Row(e core.Entry, loc *time.Location) []string {
	miles := ""
	if e.DistanceMiles > 0 {
		miles = fmt.Sprintf("%.1f", e.DistanceMiles)
	}
	return []string{
		e.Timestamp.In(loc).Format(rowDateLayout),
		string(e.Type),
		e.DisplaySource(),
		e.Amount.Dollars(),
		miles,
		e.Note,
	}
}

// signedDollars keeps the sign after the currency symbol, "$-5.00".
func signedDollars(m core.Money) string {
	return "$" + m.String()
}

var whitespace = regexp.MustCompile(`\s+`)

// FileName is "earnings-pro-<timeframe>-<date>.csv" with the label
// lowercased and whitespace runs turned into dashes.
func FileName(timeframe string, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	slug := whitespace.ReplaceAllString(strings.ToLower(strings.TrimSpace(timeframe)), "-")
	return fmt.Sprintf("earnings-pro-%s-%s.csv", slug, now.In(loc).Format("2006-01-02"))
}
