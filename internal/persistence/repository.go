package persistence

import "binance-flow-bot-go/internal/models"

// StateRepository defines the interface for loop-state persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application.
type StateRepository interface {
	// SaveLoopState atomically saves the loop state.
	SaveLoopState(state *models.LoopState) error

	// LoadLoopState loads the loop state from storage.
	// If no state is found, it should return (nil, nil).
	LoadLoopState() (*models.LoopState, error)

	// RecordOrder journals a submitted order under its client order id.
	// Recording the same id twice overwrites the earlier record.
	RecordOrder(record *models.OrderRecord) error

	// ListOrders returns every journaled order, oldest first.
	ListOrders() ([]models.OrderRecord, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
