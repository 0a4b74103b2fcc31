// Package vectorfs provides a local, BadgerHold-backed vector store.
// Each collection owns one namespace; queries are brute-force cosine
// similarity, which is sub-second well past the 10k-document target.
package vectorfs

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/timshannon/badgerhold/v4"

	"github.com/vaultmind/vaultmind/internal/common"
	"github.com/vaultmind/vaultmind/internal/interfaces"
	"github.com/vaultmind/vaultmind/internal/models"
)

// namespaceInfo marks a namespace as created. Upsert into a namespace that
// was never created is a conflict, matching the create-then-index contract.
type namespaceInfo struct {
	Name      string `badgerhold:"unique"`
	Dimension int
}

// Store implements interfaces.VectorStore on a single BadgerHold database
// under <data_dir>/vectors.
type Store struct {
	db     *badgerhold.Store
	logger *common.Logger
}

// Compile-time interface check
var _ interfaces.VectorStore = (*Store)(nil)

// NewStore opens the vector store at the given directory.
func NewStore(logger *common.Logger, path string) (*Store, error) {
	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil

	db, err := badgerhold.Open(options)
	if err != nil {
		return nil, common.WrapError(common.CodeUnavailable, err, "failed to open vector store at %s", path)
	}

	logger.Debug().Str("path", path).Msg("Vector store opened")
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func recordKey(namespace, id string) string {
	return namespace + "/" + id
}

func (s *Store) CreateNamespace(_ context.Context, namespace string, force bool) error {
	info := namespaceInfo{Name: namespace}
	err := s.db.Insert(namespace, &info)
	if err == badgerhold.ErrKeyExists {
		if !force {
			return common.Conflict("namespace '%s' already exists", namespace)
		}
		return nil
	}
	if err != nil {
		return common.WrapError(common.CodeUnavailable, err, "failed to create namespace '%s'", namespace)
	}
	return nil
}

func (s *Store) DeleteNamespace(_ context.Context, namespace string) error {
	err := s.db.DeleteMatching(models.VectorRecord{}, badgerhold.Where("Namespace").Eq(namespace))
	if err != nil {
		return common.WrapError(common.CodeUnavailable, err, "failed to clear namespace '%s'", namespace)
	}
	err = s.db.Delete(namespace, namespaceInfo{})
	if err != nil && err != badgerhold.ErrNotFound {
		return common.WrapError(common.CodeUnavailable, err, "failed to delete namespace '%s'", namespace)
	}
	return nil
}

func (s *Store) HasNamespace(_ context.Context, namespace string) (bool, error) {
	var info namespaceInfo
	err := s.db.Get(namespace, &info)
	if err == badgerhold.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, common.WrapError(common.CodeUnavailable, err, "failed to check namespace '%s'", namespace)
	}
	return true, nil
}

func (s *Store) Upsert(ctx context.Context, namespace string, records []models.VectorRecord) error {
	ok, err := s.HasNamespace(ctx, namespace)
	if err != nil {
		return err
	}
	if !ok {
		return common.NotFound("namespace '%s' not found", namespace)
	}
	for i := range records {
		records[i].Namespace = namespace
		if err := s.db.Upsert(recordKey(namespace, records[i].ID), &records[i]); err != nil {
			return common.WrapError(common.CodeUnavailable, err, "failed to upsert record '%s'", records[i].ID)
		}
	}
	return nil
}

func (s *Store) Query(_ context.Context, namespace string, vector []float32, k int, filters map[string]string) ([]models.VectorMatch, error) {
	var records []models.VectorRecord
	err := s.db.Find(&records, badgerhold.Where("Namespace").Eq(namespace))
	if err != nil {
		return nil, common.WrapError(common.CodeUnavailable, err, "failed to scan namespace '%s'", namespace)
	}

	matches := make([]models.VectorMatch, 0, len(records))
	for i := range records {
		if !matchesFilters(&records[i], filters) {
			continue
		}
		d := cosineDistance(vector, records[i].Vector)
		matches = append(matches, models.VectorMatch{Record: records[i], Distance: d})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *Store) DeleteByIDPrefix(_ context.Context, namespace, prefix string) (int, error) {
	var records []models.VectorRecord
	err := s.db.Find(&records, badgerhold.Where("Namespace").Eq(namespace))
	if err != nil {
		return 0, common.WrapError(common.CodeUnavailable, err, "failed to scan namespace '%s'", namespace)
	}
	deleted := 0
	for i := range records {
		if !strings.HasPrefix(records[i].ID, prefix) {
			continue
		}
		if err := s.db.Delete(recordKey(namespace, records[i].ID), models.VectorRecord{}); err != nil && err != badgerhold.ErrNotFound {
			return deleted, common.WrapError(common.CodeUnavailable, err, "failed to delete record '%s'", records[i].ID)
		}
		deleted++
	}
	return deleted, nil
}

func (s *Store) GetRecord(_ context.Context, namespace, id string) (*models.VectorRecord, error) {
	var rec models.VectorRecord
	err := s.db.Get(recordKey(namespace, id), &rec)
	if err == badgerhold.ErrNotFound {
		return nil, common.NotFound("record '%s' not found in namespace '%s'", id, namespace)
	}
	if err != nil {
		return nil, common.WrapError(common.CodeUnavailable, err, "failed to get record '%s'", id)
	}
	return &rec, nil
}

func (s *Store) Count(_ context.Context, namespace string) (int, error) {
	n, err := s.db.Count(models.VectorRecord{}, badgerhold.Where("Namespace").Eq(namespace))
	if err != nil {
		return 0, common.WrapError(common.CodeUnavailable, err, "failed to count namespace '%s'", namespace)
	}
	return int(n), nil
}

func (s *Store) Health(ctx context.Context, namespace string) error {
	ok, err := s.HasNamespace(ctx, namespace)
	if err != nil {
		return err
	}
	if !ok {
		return common.Unavailable("namespace '%s' is not reachable", namespace)
	}
	return nil
}

// matchesFilters applies metadata equality filters. Supported keys are
// file_path and tag.
func matchesFilters(rec *models.VectorRecord, filters map[string]string) bool {
	for key, want := range filters {
		switch key {
		case "file_path":
			if rec.Metadata.FilePath != want {
				return false
			}
		case "tag":
			found := false
			for _, t := range rec.Metadata.Tags {
				if t == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

// cosineDistance returns 1 − cosine similarity. Mismatched or zero vectors
// are maximally distant.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1.0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1.0
	}
	return 1.0 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
