// Package search implements the semantic query path: embed the query, fetch
// an over-sized candidate set, score, filter, and optionally attach adjacent
// chunk context.
package search

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/vaultmind/vaultmind/internal/common"
	"github.com/vaultmind/vaultmind/internal/indexer"
	"github.com/vaultmind/vaultmind/internal/interfaces"
	"github.com/vaultmind/vaultmind/internal/models"
)

const (
	defaultLimit = 10
	maxLimit     = 50
	maxCandidate = 100
)

// Service implements interfaces.SearchService.
type Service struct {
	storage  interfaces.StorageManager
	embedder interfaces.EmbeddingClient
	logger   *common.Logger
}

var _ interfaces.SearchService = (*Service)(nil)

// NewService creates the search service.
func NewService(storage interfaces.StorageManager, embedder interfaces.EmbeddingClient, logger *common.Logger) *Service {
	return &Service{storage: storage, embedder: embedder, logger: logger}
}

// Search runs one semantic query against a collection's namespace.
func (s *Service) Search(ctx context.Context, collection string, req models.SearchRequest) (*models.SearchResponse, error) {
	started := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return nil, common.InvalidArgument("query must not be empty")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if req.Threshold < 0 || req.Threshold > 1 {
		return nil, common.InvalidArgument("threshold must be within [0, 1]")
	}

	meta, err := s.storage.CollectionStore().Get(ctx, collection)
	if err != nil {
		return nil, err
	}
	namespace := models.NamespaceFor(collection)
	exists, err := s.storage.VectorStore().HasNamespace(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, common.NotFound("collection '%s' has no index namespace yet", collection)
	}

	vector, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, common.WrapError(common.CodeUnavailable, err, "query embedding failed")
	}

	// over-fetch so the threshold filter still leaves a full page
	k := 2 * limit
	if k > maxCandidate {
		k = maxCandidate
	}
	matches, err := s.storage.VectorStore().Query(ctx, namespace, vector, k, req.Filters)
	if err != nil {
		return nil, err
	}

	results := make([]models.SearchResult, 0, len(matches))
	for _, match := range matches {
		similarity := 1 - match.Distance
		if similarity < 0 {
			similarity = 0
		}
		if similarity > 1 {
			similarity = 1
		}
		if similarity < req.Threshold {
			continue
		}
		results = append(results, models.SearchResult{
			ID:         match.Record.ID,
			Document:   match.Record.Document,
			Similarity: similarity,
			Metadata:   match.Record.Metadata,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	totalFound := len(results)
	if len(results) > limit {
		results = results[:limit]
	}

	if req.IncludeContext {
		for i := range results {
			results[i].Context = s.adjacentContext(ctx, namespace, collection, results[i].Metadata)
		}
	}

	response := &models.SearchResponse{
		Results:      results,
		TotalFound:   totalFound,
		SearchTimeMS: time.Since(started).Milliseconds(),
		VaultInfo: models.VaultInfo{
			Name:          meta.Name,
			SourcePath:    meta.SourcePath,
			DocumentCount: meta.DocumentCount,
			ChunkCount:    meta.ChunkCount,
		},
	}

	s.logger.Debug().
		Str("collection", collection).
		Int("results", len(results)).
		Int64("ms", response.SearchTimeMS).
		Msg("Search completed")
	return response, nil
}

// adjacentContext fetches the chunks immediately before and after a hit in
// the same file. Missing neighbors just leave the side empty.
func (s *Service) adjacentContext(ctx context.Context, namespace, collection string, meta models.ChunkMetadata) *models.SearchContext {
	var sc models.SearchContext
	if meta.ChunkIndex > 0 {
		if rec, err := s.storage.VectorStore().GetRecord(ctx, namespace, indexer.ChunkID(collection, meta.FilePath, meta.ChunkIndex-1)); err == nil {
			sc.Leading = rec.Document
		}
	}
	if meta.ChunkIndex < meta.TotalChunks-1 {
		if rec, err := s.storage.VectorStore().GetRecord(ctx, namespace, indexer.ChunkID(collection, meta.FilePath, meta.ChunkIndex+1)); err == nil {
			sc.Trailing = rec.Document
		}
	}
	if sc.Leading == "" && sc.Trailing == "" {
		return nil
	}
	return &sc
}
