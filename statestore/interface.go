// Package statestore persists snapshots of realtime conversations so a
// transcript survives the session that produced it.
package statestore

import (
	"context"
	"errors"
)

// Store persists conversation snapshots keyed by conversation ID.
type Store interface {
	// Load retrieves a conversation by ID.
	Load(ctx context.Context, id string) (*ConversationState, error)

	// Save persists state, replacing any previous snapshot with the same ID.
	Save(ctx context.Context, state *ConversationState) error

	// Delete removes a conversation. Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, id string) error

	// List returns the IDs of all stored conversations in ascending order.
	List(ctx context.Context) ([]string, error)
}

// ErrNotFound is returned when a conversation doesn't exist in the store.
var ErrNotFound = errors.New("conversation not found")

// ErrInvalidID is returned when an invalid conversation ID is provided.
var ErrInvalidID = errors.New("invalid conversation ID")

// ErrInvalidState is returned when a conversation state is invalid.
var ErrInvalidState = errors.New("invalid conversation state")
