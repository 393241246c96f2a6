// Package store persists document records.
package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/documentextraction/internal/models"
	"github.com/Lllllllleong/documentextraction/internal/state"
)

// Firestore keeps one Firestore document per record, keyed by the document id.
type Firestore struct {
	client     *firestore.Client
	collection string
}

// NewFirestore creates a store over collection.
func NewFirestore(client *firestore.Client, collection string) *Firestore {
	if collection == "" {
		collection = "documents"
	}
	return &Firestore{client: client, collection: collection}
}

// Upsert overwrites the whole record.
func (s *Firestore) Upsert(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document id must not be empty")
	}
	if _, err := s.client.Collection(s.collection).Doc(doc.ID).Set(ctx, doc); err != nil {
		return fmt.Errorf("failed to set document %s: %w", doc.ID, err)
	}
	return nil
}

// Read loads a record, returning state.ErrNotFound when it does not exist.
func (s *Firestore) Read(ctx context.Context, id string) (*models.Document, error) {
	snap, err := s.client.Collection(s.collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s", state.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	var doc models.Document
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	return &doc, nil
}
