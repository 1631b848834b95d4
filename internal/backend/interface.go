package backend

import (
	"context"
	"time"

	"ninja/internal/amqp"
	"ninja/internal/services"
	"ninja/internal/sheets"
	"ninja/internal/storage"

	"github.com/shopspring/decimal"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult holds the storage and messaging a process runs on.
type BackendResult struct {
	Repository storage.Repository
	// Publisher is nil when AMQP is disabled or unreachable.
	Publisher services.SyncPublisher
	// AMQP is the underlying client for consumers; nil like Publisher.
	AMQP    *amqp.Client
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend opens the repository and, when configured, the AMQP client.
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
	// CreateMirror builds the spreadsheet mirror the worker writes to.
	CreateMirror(ctx context.Context, config Config) (sheets.EntryMirror, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// AMQP; empty URL disables sync events
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// RequireAMQP fails CreateBackend when the broker is unreachable.
	// The worker needs it; the API server degrades to polling.
	RequireAMQP bool

	// Mirror
	Mirror                   MirrorType
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// Domain defaults
	CostPerMile decimal.Decimal
	Location    *time.Location
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

// MirrorType selects where the worker mirrors entries.
type MirrorType string

const (
	MemoryMirror MirrorType = "memory"
	SheetsMirror MirrorType = "sheets"
)

func (mt MirrorType) IsValid() bool {
	return mt == MemoryMirror || mt == SheetsMirror
}
