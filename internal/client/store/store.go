// Package store defines the boundary contract the pairing and sync core
// expects from the external document store, plus the adapters that
// implement it. Raw transport errors are translated into the closed
// taxonomy of internal/common exactly once, inside the adapters.
package store

import (
	"context"

	"couplesync/internal/models"
)

// Filter operators supported by ListDocuments.
const (
	OpEqual    = "eq"       // field equals value
	OpContains = "contains" // array field contains value
)

// Filter narrows a ListDocuments call to matching documents.
type Filter struct {
	Field string
	Op    string
	Value any
}

// Equal builds an equality filter.
func Equal(field string, value any) Filter {
	return Filter{Field: field, Op: OpEqual, Value: value}
}

// Contains builds an array-membership filter.
func Contains(field string, value any) Filter {
	return Filter{Field: field, Op: OpContains, Value: value}
}

// Order sorts a ListDocuments result by a single field.
type Order struct {
	Field string
	Desc  bool
}

// Document is a versioned record owned by the external store. The type
// lives in models so server and client share one wire definition.
type Document = models.Document

// EventHandler receives change events from an active subscription.
type EventHandler func(models.ChangeEvent)

// ErrorHandler receives subscription failures: common.ErrAuthRequired for
// a dead session, common.ErrNetwork for transient transport errors.
type ErrorHandler func(error)

// Store is the CRUD + subscribe surface of the external document store.
// Any compliant backend satisfies it.
type Store interface {
	// CreateDocument inserts a new document and returns it with its
	// store-assigned id and initial version.
	CreateDocument(ctx context.Context, collection string, fields map[string]any) (*Document, error)

	// GetDocument fetches a single document by id.
	GetDocument(ctx context.Context, collection, id string) (*Document, error)

	// UpdateDocument applies patch only if the stored version still
	// equals expectedVersion; otherwise it fails with common.ErrConflict.
	// This compare-and-swap is the primitive bounded-membership rides on.
	UpdateDocument(ctx context.Context, collection, id string, expectedVersion int64, patch map[string]any) (*Document, error)

	// DeleteDocument removes a document.
	DeleteDocument(ctx context.Context, collection, id string) error

	// ListDocuments returns documents matching every filter, sorted by
	// order when given.
	ListDocuments(ctx context.Context, collection string, filters []Filter, order *Order) ([]*Document, error)

	// Subscribe opens a push feed for the given collections. It returns
	// an unsubscribe function which must be invoked exactly once.
	Subscribe(ctx context.Context, collections []string, onEvent EventHandler, onError ErrorHandler) (func(), error)
}

// Session is the auth boundary: who is signed in, and sign-out.
type Session interface {
	// CurrentIdentity returns the signed-in identity, or (nil, nil) when
	// there is no live session.
	CurrentIdentity(ctx context.Context) (*models.Identity, error)

	SignOut(ctx context.Context) error
}
