package datasets

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/patrickmn/go-cache"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/documentextraction/internal/models"
)

// DefaultCacheTTL bounds how long a dataset configuration is served from memory.
const DefaultCacheTTL = 5 * time.Minute

// Firestore reads one configuration document per dataset from a collection, with an in-memory
// L1 cache in front of it.
type Firestore struct {
	client     *firestore.Client
	collection string
	cache      *cache.Cache
}

// NewFirestore creates a provider over collection. ttl <= 0 uses DefaultCacheTTL.
func NewFirestore(client *firestore.Client, collection string, ttl time.Duration) *Firestore {
	if collection == "" {
		collection = "datasets"
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Firestore{
		client:     client,
		collection: collection,
		cache:      cache.New(ttl, 2*ttl),
	}
}

func (p *Firestore) GetDatasetConfig(ctx context.Context, dataset string) (models.DatasetConfig, error) {
	if v, ok := p.cache.Get(dataset); ok {
		return v.(models.DatasetConfig), nil
	}

	snap, err := p.client.Collection(p.collection).Doc(dataset).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return models.DatasetConfig{}, notFound(dataset, nil)
		}
		return models.DatasetConfig{}, models.ConfigurationError(fmt.Sprintf("failed to load configuration for dataset %q", dataset), err)
	}
	var rec record
	if err := snap.DataTo(&rec); err != nil {
		return models.DatasetConfig{}, models.ConfigurationError(fmt.Sprintf("failed to decode configuration for dataset %q", dataset), err)
	}
	cfg, err := rec.toConfig(dataset)
	if err != nil {
		return models.DatasetConfig{}, err
	}

	p.cache.SetDefault(dataset, cfg)
	slog.Debug("Dataset configuration loaded.", "dataset", dataset)
	return cfg, nil
}

// Invalidate drops a cached configuration.
func (p *Firestore) Invalidate(dataset string) {
	p.cache.Delete(dataset)
}
