package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Order        EntryType = "ORDER"
	Bonus        EntryType = "BONUS"
	Expense      EntryType = "EXPENSE"
	Cancellation EntryType = "CANCELLATION"
)

const (
	DoorDash  App = "DOORDASH"
	UberEats  App = "UBEREATS"
	Instacart App = "INSTACART"
	Grubhub   App = "GRUBHUB"
	Shipt     App = "SHIPT"
	OtherApp  App = "OTHER"
)

const (
	Gas          ExpenseCategory = "GAS"
	Parking      ExpenseCategory = "PARKING"
	Tolls        ExpenseCategory = "TOLLS"
	Maintenance  ExpenseCategory = "MAINTENANCE"
	Phone        ExpenseCategory = "PHONE"
	Subscription ExpenseCategory = "SUBSCRIPTION"
	Food         ExpenseCategory = "FOOD"
	Leisure      ExpenseCategory = "LEISURE"
	OtherExpense ExpenseCategory = "OTHER"
)

const (
	Today     Timeframe = "TODAY"
	Yesterday Timeframe = "YESTERDAY"
	ThisWeek  Timeframe = "THIS_WEEK"
	Last7Days Timeframe = "LAST_7_DAYS"
	ThisMonth Timeframe = "THIS_MONTH"
	LastMonth Timeframe = "LAST_MONTH"
)

// MaxNoteLength bounds free-text notes on entries.
const MaxNoteLength = 500

type (
	EntryType       string
	App             string
	ExpenseCategory string
	Timeframe       string

	// Entry is a single ledger line. Amount is always a non-negative
	// magnitude; the direction comes from Type.
	Entry struct {
		ID              int64           `json:"id"`
		UserID          string          `json:"-"`
		Timestamp       time.Time       `json:"timestamp"`
		Type            EntryType       `json:"type"`
		App             App             `json:"app"`
		OrderID         string          `json:"order_id,omitempty"`
		Amount          Money           `json:"amount"`
		DistanceMiles   float64         `json:"distance_miles"`
		DurationMinutes int             `json:"duration_minutes"`
		Category        ExpenseCategory `json:"category,omitempty"`
		Note            string          `json:"note,omitempty"`
		ReceiptURL      string          `json:"receipt_url,omitempty"`
		CreatedAt       time.Time       `json:"created_at"`
		UpdatedAt       time.Time       `json:"updated_at"`
	}

	// EntryPatch carries a partial update; nil fields are left untouched.
	EntryPatch struct {
		Timestamp       *time.Time       `json:"timestamp,omitempty"`
		Type            *EntryType       `json:"type,omitempty"`
		App             *App             `json:"app,omitempty"`
		OrderID         *string          `json:"order_id,omitempty"`
		Amount          *Money           `json:"amount,omitempty"`
		DistanceMiles   *float64         `json:"distance_miles,omitempty"`
		DurationMinutes *int             `json:"duration_minutes,omitempty"`
		Category        *ExpenseCategory `json:"category,omitempty"`
		Note            *string          `json:"note,omitempty"`
	}

	Goal struct {
		Timeframe    Timeframe `json:"timeframe"`
		TargetProfit Money     `json:"target_profit"`
		UpdatedAt    time.Time `json:"updated_at"`
	}

	Settings struct {
		CostPerMile Rate      `json:"cost_per_mile"`
		UpdatedAt   time.Time `json:"updated_at"`
	}

	// UserPoints is the gamification ledger of a single user.
	UserPoints struct {
		TotalPoints  int       `json:"total_points"`
		DailyStreak  int       `json:"daily_streak"`
		LastUsedDate string    `json:"last_used_date,omitempty"`
		SignupAt     time.Time `json:"signup_date"`
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidType      = errors.New("invalid entry type")
	ErrInvalidApp       = errors.New("invalid app")
	ErrInvalidCategory  = errors.New("invalid expense category")
	ErrInvalidTimeframe = errors.New("invalid timeframe")
	ErrInvalidDistance  = errors.New("invalid distance")
	ErrInvalidDuration  = errors.New("invalid duration")
	ErrMissingTimestamp = errors.New("missing timestamp")
	ErrNoteTooLong      = errors.New("note too long (max 500 characters)")
	ErrInvalidRate      = errors.New("invalid cost per mile")
	ErrNotFound         = errors.New("not found")
)

var (
	entryTypes = []EntryType{Order, Bonus, Expense, Cancellation}
	apps       = []App{DoorDash, UberEats, Instacart, Grubhub, Shipt, OtherApp}
	categories = []ExpenseCategory{Gas, Parking, Tolls, Maintenance, Phone, Subscription, Food, Leisure, OtherExpense}
	timeframes = []Timeframe{Today, Yesterday, ThisWeek, Last7Days, ThisMonth, LastMonth}
)

// EntryTypes returns every known entry type.
func EntryTypes() []EntryType { return append([]EntryType(nil), entryTypes...) }

// Apps returns every known platform.
func Apps() []App { return append([]App(nil), apps...) }

// ExpenseCategories returns every known expense category.
func ExpenseCategories() []ExpenseCategory { return append([]ExpenseCategory(nil), categories...) }

// Timeframes returns every known timeframe.
func Timeframes() []Timeframe { return append([]Timeframe(nil), timeframes...) }

func (t EntryType) Valid() bool {
	for _, v := range entryTypes {
		if v == t {
			return true
		}
	}
	return false
}

// IsIncome reports whether the type counts towards revenue (positively or as a clawback).
func (t EntryType) IsIncome() bool {
	return t == Order || t == Bonus || t == Cancellation
}

func (a App) Valid() bool {
	for _, v := range apps {
		if v == a {
			return true
		}
	}
	return false
}

func (c ExpenseCategory) Valid() bool {
	for _, v := range categories {
		if v == c {
			return true
		}
	}
	return false
}

func (tf Timeframe) Valid() bool {
	for _, v := range timeframes {
		if v == tf {
			return true
		}
	}
	return false
}

// Label is the human readable name used in exports and the CLI.
func (tf Timeframe) Label() string {
	switch tf {
	case Today:
		return "Today"
	case Yesterday:
		return "Yesterday"
	case ThisWeek:
		return "This Week"
	case Last7Days:
		return "Last 7 Days"
	case ThisMonth:
		return "This Month"
	case LastMonth:
		return "Last Month"
	}
	return "Custom Range"
}

// Normalize enforces the amount sign contract and canonical field shapes.
// It is applied once, when an entry enters the system.
func (e *Entry) Normalize() {
	e.Amount = e.Amount.Abs()
	e.Timestamp = e.Timestamp.UTC()
	e.OrderID = strings.TrimSpace(e.OrderID)
	e.Note = strings.TrimSpace(e.Note)
	if e.Type != Expense {
		e.Category = ""
	}
	if e.App == "" {
		e.App = OtherApp
	}
}

func (e Entry) Validate() error {
	if e.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	if !e.Type.Valid() {
		return ErrInvalidType
	}
	if !e.App.Valid() {
		return ErrInvalidApp
	}
	if e.Amount.Cents <= 0 {
		return ErrInvalidAmount
	}
	if e.DistanceMiles < 0 {
		return ErrInvalidDistance
	}
	if e.DurationMinutes < 0 {
		return ErrInvalidDuration
	}
	if e.Category != "" && !e.Category.Valid() {
		return ErrInvalidCategory
	}
	if len(e.Note) > MaxNoteLength {
		return ErrNoteTooLong
	}
	return nil
}

// Apply merges a patch into the entry and re-normalizes it.
func (e *Entry) Apply(p EntryPatch) {
	if p.Timestamp != nil {
		e.Timestamp = *p.Timestamp
	}
	if p.Type != nil {
		e.Type = *p.Type
	}
	if p.App != nil {
		e.App = *p.App
	}
	if p.OrderID != nil {
		e.OrderID = *p.OrderID
	}
	if p.Amount != nil {
		e.Amount = *p.Amount
	}
	if p.DistanceMiles != nil {
		e.DistanceMiles = *p.DistanceMiles
	}
	if p.DurationMinutes != nil {
		e.DurationMinutes = *p.DurationMinutes
	}
	if p.Category != nil {
		e.Category = *p.Category
	}
	if p.Note != nil {
		e.Note = *p.Note
	}
	e.Normalize()
}

// DisplaySource is the platform, or the category for expenses.
func (e Entry) DisplaySource() string {
	if e.Type == Expense {
		if e.Category == "" {
			return string(OtherExpense)
		}
		return string(e.Category)
	}
	return string(e.App)
}

func (g Goal) Validate() error {
	if !g.Timeframe.Valid() {
		return ErrInvalidTimeframe
	}
	if g.TargetProfit.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (s Settings) Validate() error {
	if s.CostPerMile.IsNegative() {
		return ErrInvalidRate
	}
	if s.CostPerMile.GreaterThan(decimal.NewFromInt(100)) {
		return ErrInvalidRate
	}
	return nil
}
