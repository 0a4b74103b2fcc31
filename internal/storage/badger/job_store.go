package badger

import (
	"context"
	"sort"

	"github.com/timshannon/badgerhold/v4"

	"github.com/vaultmind/vaultmind/internal/common"
	"github.com/vaultmind/vaultmind/internal/interfaces"
	"github.com/vaultmind/vaultmind/internal/models"
)

// jobStore persists job rows keyed by job id.
type jobStore struct {
	store  *Store
	logger *common.Logger
}

// Compile-time interface check
var _ interfaces.JobStore = (*jobStore)(nil)

// NewJobStore creates a JobStore backed by BadgerHold.
func NewJobStore(store *Store, logger *common.Logger) interfaces.JobStore {
	return &jobStore{store: store, logger: logger}
}

func (s *jobStore) Insert(_ context.Context, job *models.Job) error {
	if err := s.store.db.Insert(job.ID, job); err != nil {
		if err == badgerhold.ErrKeyExists {
			return common.Conflict("job '%s' already exists", job.ID)
		}
		return common.WrapError(common.CodeUnavailable, err, "failed to insert job '%s'", job.ID)
	}
	return nil
}

func (s *jobStore) Get(_ context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := s.store.db.Get(id, &job)
	if err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.NotFound("job '%s' not found", id)
		}
		return nil, common.WrapError(common.CodeUnavailable, err, "failed to get job '%s'", id)
	}
	return &job, nil
}

func (s *jobStore) Update(_ context.Context, job *models.Job) error {
	if err := s.store.db.Update(job.ID, job); err != nil {
		if err == badgerhold.ErrNotFound {
			return common.NotFound("job '%s' not found", job.ID)
		}
		return common.WrapError(common.CodeUnavailable, err, "failed to update job '%s'", job.ID)
	}
	return nil
}

func (s *jobStore) ListForCollection(_ context.Context, name string, limit int) ([]models.Job, error) {
	var jobs []models.Job
	err := s.store.db.Find(&jobs, badgerhold.Where("CollectionName").Eq(name))
	if err != nil {
		return nil, common.WrapError(common.CodeUnavailable, err, "failed to list jobs for '%s'", name)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *jobStore) ActiveForCollection(_ context.Context, name string) (*models.Job, error) {
	var jobs []models.Job
	err := s.store.db.Find(&jobs, badgerhold.Where("CollectionName").Eq(name))
	if err != nil {
		return nil, common.WrapError(common.CodeUnavailable, err, "failed to query active job for '%s'", name)
	}
	for i := range jobs {
		if models.IsActive(jobs[i].Status) {
			return &jobs[i], nil
		}
	}
	return nil, nil
}

func (s *jobStore) Dispatchable(_ context.Context) ([]models.Job, error) {
	var jobs []models.Job
	err := s.store.db.Find(&jobs,
		badgerhold.Where("Status").In(models.JobStatusPending, models.JobStatusQueued))
	if err != nil {
		return nil, common.WrapError(common.CodeUnavailable, err, "failed to query dispatchable jobs")
	}
	// priority DESC, created_at ASC
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].Priority != jobs[j].Priority {
			return jobs[i].Priority > jobs[j].Priority
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

func (s *jobStore) ListByStatus(_ context.Context, status string, limit int) ([]models.Job, error) {
	var jobs []models.Job
	err := s.store.db.Find(&jobs, badgerhold.Where("Status").Eq(status))
	if err != nil {
		return nil, common.WrapError(common.CodeUnavailable, err, "failed to list %s jobs", status)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *jobStore) CountByStatus(_ context.Context) (map[string]int, error) {
	var jobs []models.Job
	if err := s.store.db.Find(&jobs, nil); err != nil {
		return nil, common.WrapError(common.CodeUnavailable, err, "failed to count jobs")
	}
	counts := make(map[string]int)
	for i := range jobs {
		counts[jobs[i].Status]++
	}
	return counts, nil
}

func (s *jobStore) ResetRunningJobs(ctx context.Context) (int, error) {
	var jobs []models.Job
	err := s.store.db.Find(&jobs, badgerhold.Where("Status").Eq(models.JobStatusRunning))
	if err != nil {
		return 0, common.WrapError(common.CodeUnavailable, err, "failed to find running jobs")
	}
	count := 0
	for i := range jobs {
		jobs[i].Status = models.JobStatusQueued
		if err := s.Update(ctx, &jobs[i]); err != nil {
			s.logger.Warn().Str("job_id", jobs[i].ID).Err(err).Msg("Failed to demote running job")
			continue
		}
		count++
	}
	return count, nil
}

func (s *jobStore) PruneTerminal(_ context.Context, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	var jobs []models.Job
	err := s.store.db.Find(&jobs,
		badgerhold.Where("Status").In(models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled))
	if err != nil {
		return 0, common.WrapError(common.CodeUnavailable, err, "failed to find terminal jobs")
	}

	byCollection := make(map[string][]models.Job)
	for i := range jobs {
		byCollection[jobs[i].CollectionName] = append(byCollection[jobs[i].CollectionName], jobs[i])
	}

	pruned := 0
	for _, group := range byCollection {
		if len(group) <= keep {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			return group[i].CompletedAt.After(group[j].CompletedAt)
		})
		for _, old := range group[keep:] {
			if err := s.store.db.Delete(old.ID, models.Job{}); err != nil && err != badgerhold.ErrNotFound {
				s.logger.Warn().Str("job_id", old.ID).Err(err).Msg("Failed to prune terminal job")
				continue
			}
			pruned++
		}
	}
	return pruned, nil
}
