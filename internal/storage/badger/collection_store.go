package badger

import (
	"context"
	"sort"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/vaultmind/vaultmind/internal/common"
	"github.com/vaultmind/vaultmind/internal/interfaces"
	"github.com/vaultmind/vaultmind/internal/models"
)

// collectionStore persists collection metadata keyed by name.
type collectionStore struct {
	store  *Store
	logger *common.Logger
}

// Compile-time interface check
var _ interfaces.CollectionStore = (*collectionStore)(nil)

// NewCollectionStore creates a CollectionStore backed by BadgerHold.
func NewCollectionStore(store *Store, logger *common.Logger) interfaces.CollectionStore {
	return &collectionStore{store: store, logger: logger}
}

func (s *collectionStore) Insert(_ context.Context, c *models.Collection) error {
	err := s.store.db.Insert(c.Name, c)
	if err != nil {
		if err == badgerhold.ErrKeyExists {
			return common.Conflict("collection '%s' already exists", c.Name)
		}
		return common.WrapError(common.CodeUnavailable, err, "failed to insert collection '%s'", c.Name)
	}
	return nil
}

func (s *collectionStore) Get(_ context.Context, name string) (*models.Collection, error) {
	var c models.Collection
	err := s.store.db.Get(name, &c)
	if err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.NotFound("collection '%s' not found", name)
		}
		return nil, common.WrapError(common.CodeUnavailable, err, "failed to get collection '%s'", name)
	}
	return &c, nil
}

func (s *collectionStore) Update(_ context.Context, c *models.Collection) error {
	c.UpdatedAt = time.Now().UTC()
	if err := s.store.db.Update(c.Name, c); err != nil {
		if err == badgerhold.ErrNotFound {
			return common.NotFound("collection '%s' not found", c.Name)
		}
		return common.WrapError(common.CodeUnavailable, err, "failed to update collection '%s'", c.Name)
	}
	return nil
}

func (s *collectionStore) Delete(_ context.Context, name string) error {
	err := s.store.db.Delete(name, models.Collection{})
	if err != nil {
		if err == badgerhold.ErrNotFound {
			return common.NotFound("collection '%s' not found", name)
		}
		return common.WrapError(common.CodeUnavailable, err, "failed to delete collection '%s'", name)
	}
	return nil
}

func (s *collectionStore) List(_ context.Context, page, limit int) ([]models.Collection, models.PageMeta, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 100
	}

	var all []models.Collection
	if err := s.store.db.Find(&all, nil); err != nil {
		return nil, models.PageMeta{}, common.WrapError(common.CodeUnavailable, err, "failed to list collections")
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].UpdatedAt.After(all[j].UpdatedAt)
	})

	total := len(all)
	totalPages := (total + limit - 1) / limit
	if totalPages == 0 {
		totalPages = 1
	}

	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	meta := models.PageMeta{
		CurrentPage:  page,
		TotalPages:   totalPages,
		TotalItems:   total,
		ItemsPerPage: limit,
		HasNext:      page < totalPages,
		HasPrevious:  page > 1 && total > 0,
	}
	return all[start:end], meta, nil
}

func (s *collectionStore) Count(_ context.Context) (int, error) {
	n, err := s.store.db.Count(models.Collection{}, nil)
	if err != nil {
		return 0, common.WrapError(common.CodeUnavailable, err, "failed to count collections")
	}
	return int(n), nil
}
