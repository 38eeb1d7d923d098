// Package interfaces defines service contracts for the Vire assistant
package interfaces

import (
	"context"

	"github.com/bobmcallan/vire-assistant/internal/models"
)

// QueryJournal persists answered queries
type QueryJournal interface {
	Record(ctx context.Context, entry *models.JournalEntry) error
	Recent(ctx context.Context, limit int) ([]*models.JournalEntry, error)
	Close() error
}
