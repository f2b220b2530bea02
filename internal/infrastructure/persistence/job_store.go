package persistence

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/funnelvalue/conversions/internal/infrastructure/persistence/models"
	"github.com/funnelvalue/conversions/internal/infrastructure/queue"
)

// GormJobStore implements queue.Store on the delivery_jobs table.
// Claims use SELECT ... FOR UPDATE SKIP LOCKED on postgres, so any number of
// worker processes may share one table.
type GormJobStore struct {
	db *gorm.DB
}

// NewGormJobStore creates a new GORM-based job store
func NewGormJobStore(db *gorm.DB) *GormJobStore {
	return &GormJobStore{db: db}
}

// Add inserts the job unless its key is already present
func (s *GormJobStore) Add(ctx context.Context, job *queue.Job) (bool, error) {
	m := models.DeliveryJobModelFromDomain(job)
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(m)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Claim atomically leases runnable jobs and returns them
func (s *GormJobStore) Claim(ctx context.Context, name string, now time.Time, lease time.Duration, limit int) ([]*queue.Job, error) {
	if limit <= 0 {
		limit = 1
	}

	var claimed []*queue.Job

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []models.DeliveryJobModel
		// Lock and fetch jobs using FOR UPDATE SKIP LOCKED
		if err := tx.
			Clauses(clause.Locking{
				Strength: "UPDATE",
				Options:  "SKIP LOCKED",
			}).
			Where("queue = ? AND state IN ? AND available_at <= ?", name, []queue.State{
				queue.StateWaiting,
				queue.StateDelayed,
			}, now).
			Order("available_at ASC").
			Limit(limit).
			Find(&rows).Error; err != nil {
			return err
		}

		if len(rows) == 0 {
			return nil
		}

		ids := make([]string, len(rows))
		for i := range rows {
			ids[i] = rows[i].ID
		}

		until := now.Add(lease)
		if err := tx.Model(&models.DeliveryJobModel{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"state":        queue.StateActive,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_until": until,
				"updated_at":   now,
			}).Error; err != nil {
			return err
		}

		// Update in-memory rows
		for i := range rows {
			rows[i].State = queue.StateActive
			rows[i].Attempts++
			rows[i].LockedUntil = &until
			rows[i].UpdatedAt = now
			claimed = append(claimed, rows[i].ToDomain())
		}
		return nil
	})

	return claimed, err
}

// Transition stores the job's new state if nobody else changed it first
func (s *GormJobStore) Transition(ctx context.Context, job *queue.Job, from queue.State, attempts int) error {
	result := s.db.WithContext(ctx).
		Model(&models.DeliveryJobModel{}).
		Where("id = ? AND state = ? AND attempts = ?", job.ID, from, attempts).
		Updates(map[string]any{
			"state":        job.State,
			"attempts":     job.Attempts,
			"payload":      job.Payload,
			"available_at": job.AvailableAt,
			"locked_until": job.LockedUntil,
			"last_error":   job.LastError,
			"finished_at":  job.FinishedAt,
			"updated_at":   job.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.DeliveryJobModel{}).Where("id = ?", job.ID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return queue.ErrJobNotFound
	}
	return queue.ErrStaleJob
}

// Get retrieves a single job by ID
func (s *GormJobStore) Get(ctx context.Context, id string) (*queue.Job, error) {
	var m models.DeliveryJobModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, queue.ErrJobNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// Counts returns the count of jobs for each state
func (s *GormJobStore) Counts(ctx context.Context, name string) (map[queue.State]int64, error) {
	type stateCount struct {
		State queue.State
		Count int64
	}

	var results []stateCount
	err := s.db.WithContext(ctx).
		Model(&models.DeliveryJobModel{}).
		Select("state, count(*) as count").
		Where("queue = ?", name).
		Group("state").
		Scan(&results).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[queue.State]int64)
	for _, r := range results {
		counts[r.State] = r.Count
	}
	return counts, nil
}

// FindStalled retrieves active jobs whose lease has run out
func (s *GormJobStore) FindStalled(ctx context.Context, name string, now time.Time, limit int) ([]*queue.Job, error) {
	var rows []models.DeliveryJobModel
	err := s.db.WithContext(ctx).
		Where("queue = ? AND state = ? AND locked_until < ?", name, queue.StateActive, now).
		Order("locked_until ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toJobs(rows), nil
}

// FindEvictable retrieves finished jobs past retention or beyond the keep count
func (s *GormJobStore) FindEvictable(ctx context.Context, name string, state queue.State, before time.Time, keep, limit int) ([]*queue.Job, error) {
	var expired []models.DeliveryJobModel
	if err := s.db.WithContext(ctx).
		Where("queue = ? AND state = ? AND finished_at < ?", name, state, before).
		Order("finished_at ASC").
		Limit(limit).
		Find(&expired).Error; err != nil {
		return nil, err
	}
	if keep <= 0 || len(expired) >= limit {
		return toJobs(expired), nil
	}

	var overflow []models.DeliveryJobModel
	if err := s.db.WithContext(ctx).
		Where("queue = ? AND state = ?", name, state).
		Order("finished_at DESC").
		Offset(keep).
		Limit(limit).
		Find(&overflow).Error; err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(expired))
	for _, m := range expired {
		seen[m.ID] = struct{}{}
	}
	for _, m := range overflow {
		if len(expired) >= limit {
			break
		}
		if _, ok := seen[m.ID]; !ok {
			expired = append(expired, m)
		}
	}
	return toJobs(expired), nil
}

// Delete deletes jobs by ID
func (s *GormJobStore) Delete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&models.DeliveryJobModel{})
	return result.RowsAffected, result.Error
}

func toJobs(rows []models.DeliveryJobModel) []*queue.Job {
	jobs := make([]*queue.Job, len(rows))
	for i := range rows {
		jobs[i] = rows[i].ToDomain()
	}
	return jobs
}

// Ensure GormJobStore implements queue.Store
var _ queue.Store = (*GormJobStore)(nil)
