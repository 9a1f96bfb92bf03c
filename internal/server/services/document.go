package services

import (
	"context"
	"fmt"
	"time"

	"couplesync/internal/common"
	"couplesync/internal/models"
	"couplesync/internal/server/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// allowedCollections is the closed set of collections clients may touch.
var allowedCollections = map[string]bool{
	models.CollectionPairs:    true,
	models.CollectionMemories: true,
}

// DocumentService handles document business logic and feeds the change hub
type DocumentService struct {
	docRepo *repository.DocumentRepository
	hub     *Hub
}

// NewDocumentService creates a new document service
func NewDocumentService(docRepo *repository.DocumentRepository, hub *Hub) *DocumentService {
	return &DocumentService{
		docRepo: docRepo,
		hub:     hub,
	}
}

// Create inserts a new document and broadcasts the created event
func (s *DocumentService) Create(ctx context.Context, collection string, fields map[string]any) (*models.Document, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]any{}
	}

	now := time.Now()
	doc := &models.Document{
		ID:         uuid.New().String(),
		Collection: collection,
		Version:    1,
		Fields:     fields,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.docRepo.Create(ctx, doc); err != nil {
		return nil, err
	}

	s.broadcast(doc, models.EventCreated)
	return doc, nil
}

// Get retrieves a document
func (s *DocumentService) Get(ctx context.Context, collection, id string) (*models.Document, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	return s.docRepo.Get(ctx, collection, id)
}

// Update applies a conditional patch and broadcasts the updated event
func (s *DocumentService) Update(ctx context.Context, collection, id string, expectedVersion int64, patch map[string]any) (*models.Document, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	doc, err := s.docRepo.Update(ctx, collection, id, expectedVersion, patch)
	if err != nil {
		return nil, err
	}

	s.broadcast(doc, models.EventUpdated)
	return doc, nil
}

// Delete removes a document and broadcasts the deleted event
func (s *DocumentService) Delete(ctx context.Context, collection, id string) error {
	if err := checkCollection(collection); err != nil {
		return err
	}

	doc, err := s.docRepo.Delete(ctx, collection, id)
	if err != nil {
		return err
	}

	s.broadcast(doc, models.EventDeleted)
	return nil
}

// List retrieves documents matching the filters
func (s *DocumentService) List(ctx context.Context, collection string, filters []repository.Filter, order *repository.Order) ([]*models.Document, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	return s.docRepo.List(ctx, collection, filters, order)
}

func (s *DocumentService) broadcast(doc *models.Document, eventType string) {
	event := models.ChangeEvent{
		Collection: doc.Collection,
		DocumentID: doc.ID,
		EventType:  eventType,
		Payload:    doc.Fields,
	}
	s.hub.Broadcast(event)

	log.Debug().
		Str("collection", doc.Collection).
		Str("document_id", doc.ID).
		Str("event_type", eventType).
		Msg("Change event broadcast")
}

func checkCollection(collection string) error {
	if !allowedCollections[collection] {
		return fmt.Errorf("unknown collection %q: %w", collection, common.ErrValidation)
	}
	return nil
}
