package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/vaultmind/vaultmind/internal/common"
	"github.com/vaultmind/vaultmind/internal/models"
)

// tokenTTL is the deletion-token lifetime.
const tokenTTL = 300 * time.Second

// tokenStore holds in-memory single-use deletion tokens. Fail-closed: an
// invalid or expired token never proceeds.
type tokenStore struct {
	mu     sync.Mutex
	tokens map[string]models.DeletionToken
}

func newTokenStore() *tokenStore {
	return &tokenStore{tokens: make(map[string]models.DeletionToken)}
}

func (ts *tokenStore) issue(collectionName string) (*models.DeletionToken, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return nil, common.Internal("failed to generate deletion token")
	}

	token := models.DeletionToken{
		Token:          hex.EncodeToString(raw),
		CollectionName: collectionName,
		ExpiresAt:      time.Now().UTC().Add(tokenTTL),
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.pruneLocked()
	ts.tokens[token.Token] = token
	return &token, nil
}

// consume validates and removes a token. The token is single-use: it is
// removed even before the delete job runs, so a second call always fails.
func (ts *tokenStore) consume(token, collectionName string) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.pruneLocked()

	entry, ok := ts.tokens[token]
	if !ok {
		return common.PreconditionFailed("deletion token is invalid or expired")
	}
	if entry.CollectionName != collectionName {
		return common.PreconditionFailed("deletion token does not match collection")
	}
	delete(ts.tokens, token)
	if time.Now().UTC().After(entry.ExpiresAt) {
		return common.PreconditionFailed("deletion token is invalid or expired")
	}
	return nil
}

func (ts *tokenStore) dropCollection(name string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for token, entry := range ts.tokens {
		if entry.CollectionName == name {
			delete(ts.tokens, token)
		}
	}
}

func (ts *tokenStore) pruneLocked() {
	now := time.Now().UTC()
	for token, entry := range ts.tokens {
		if now.After(entry.ExpiresAt) {
			delete(ts.tokens, token)
		}
	}
}

// IssueDeletionToken creates a single-use token authorizing deletion of one
// collection.
func (s *Service) IssueDeletionToken(ctx context.Context, name string) (*models.DeletionToken, error) {
	if _, err := s.storage.CollectionStore().Get(ctx, name); err != nil {
		return nil, err
	}
	token, err := s.tokens.issue(name)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("collection", name).Msg("Deletion token issued")
	return token, nil
}

// Delete validates the confirmation token and enqueues a delete job.
// Returns the job id.
func (s *Service) Delete(ctx context.Context, name, token string) (string, error) {
	if err := s.tokens.consume(token, name); err != nil {
		return "", err
	}

	// Token matched but the collection may have been deleted concurrently.
	if _, err := s.storage.CollectionStore().Get(ctx, name); err != nil {
		return "", err
	}

	jobID, err := s.queue.Create(ctx, models.JobKindDelete, name,
		models.JobPayload{Kind: models.JobKindDelete, Delete: &models.DeletePayload{Token: token}},
		models.PriorityDelete)
	if err != nil {
		return "", err
	}
	s.logger.Info().Str("collection", name).Str("job_id", jobID).Msg("Delete job enqueued")
	return jobID, nil
}
