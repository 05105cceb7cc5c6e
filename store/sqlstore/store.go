package sqlstore

import (
	"context"
	gosql "database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/kamalhaddad/texttovideo-orchestrator/job"
	"github.com/kamalhaddad/texttovideo-orchestrator/store"
)

// Store implements store.Store using a bun-backed SQL database.
//
// Every lifecycle transition is a single UPDATE ... WHERE id = ? AND
// status = ? [AND replica_id = ?] statement; the teacher's
// UPDATE/RowsAffected CAS pattern, not a transaction-wrapped
// read-modify-write.
type Store struct {
	db *bun.DB
}

// New wraps an initialized *bun.DB (InitDB must already have run
// against it) as a store.Store.
func New(db *bun.DB) *Store {
	return &Store{db: db}
}

var _ store.Store = (*Store)(nil)

func (s *Store) Create(ctx context.Context, j *job.Job) error {
	model := fromJob(j)
	_, err := s.db.NewInsert().Model(model).Exec(ctx)
	if err != nil && isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	var m jobModel
	err := s.db.NewSelect().Model(&m).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, gosql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return m.toJob(), nil
}

func (s *Store) List(ctx context.Context, filter store.ListFilter, page, pageSize int) (store.ListResult, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	q := s.db.NewSelect().Model((*jobModel)(nil))
	if filter.Status != job.Unknown {
		q = q.Where("status = ?", filter.Status)
	}

	total, err := q.Count(ctx)
	if err != nil {
		return store.ListResult{}, err
	}

	var models []*jobModel
	err = q.Order("submitted_at DESC", "id ASC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Scan(ctx, &models)
	if err != nil {
		return store.ListResult{}, err
	}

	jobs := make([]*job.Job, len(models))
	for i, m := range models {
		jobs[i] = m.toJob()
	}

	totalPages := int64(total) / int64(pageSize)
	if int64(total)%int64(pageSize) != 0 {
		totalPages++
	}

	return store.ListResult{
		Jobs:       jobs,
		Page:       page,
		PageSize:   pageSize,
		Total:      int64(total),
		TotalPages: totalPages,
	}, nil
}

func (s *Store) Claim(ctx context.Context, id uuid.UUID, replicaID string, lease time.Duration) (*job.Job, error) {
	now := time.Now()
	leaseExp := now.Add(lease)
	res, err := s.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("status = ?", job.Processing).
		Set("replica_id = ?", replicaID).
		Set("started_at = ?", now).
		Set("lease_expires_at = ?", leaseExp).
		Where("id = ?", id).
		Where("status = ?", job.Pending).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	if !isAffected(res) {
		return nil, s.conflictOrNotFound(ctx, id)
	}
	return s.Get(ctx, id)
}

func (s *Store) ExtendLease(ctx context.Context, id uuid.UUID, replicaID string, lease time.Duration) error {
	leaseExp := time.Now().Add(lease)
	res, err := s.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("lease_expires_at = ?", leaseExp).
		Where("id = ?", id).
		Where("status = ?", job.Processing).
		Where("replica_id = ?", replicaID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if !isAffected(res) {
		return s.conflictOrNotFound(ctx, id)
	}
	return nil
}

func (s *Store) ReportProgress(ctx context.Context, id uuid.UUID, replicaID string, fraction float64) error {
	res, err := s.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("progress = ?", fraction).
		Where("id = ?", id).
		Where("status = ?", job.Processing).
		Where("replica_id = ?", replicaID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if !isAffected(res) {
		return s.conflictOrNotFound(ctx, id)
	}
	return nil
}

func (s *Store) Complete(ctx context.Context, id uuid.UUID, replicaID string, artifactPath string) error {
	now := time.Now()
	res, err := s.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("status = ?", job.Completed).
		Set("artifact_path = ?", artifactPath).
		Set("completed_at = ?", now).
		Set("replica_id = ''").
		Set("lease_expires_at = NULL").
		Set("cancel_requested = false").
		Where("id = ?", id).
		Where("status = ?", job.Processing).
		Where("replica_id = ?", replicaID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if !isAffected(res) {
		return s.conflictOrNotFound(ctx, id)
	}
	return nil
}

func (s *Store) Fail(ctx context.Context, id uuid.UUID, replicaID string, kind job.ErrorKind, detail string) error {
	now := time.Now()
	res, err := s.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("status = ?", job.Failed).
		Set("error_kind = ?", kind).
		Set("error_detail = ?", detail).
		Set("completed_at = ?", now).
		Set("replica_id = ''").
		Set("lease_expires_at = NULL").
		Set("cancel_requested = false").
		Where("id = ?", id).
		Where("status = ?", job.Processing).
		Where("replica_id = ?", replicaID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if !isAffected(res) {
		return s.conflictOrNotFound(ctx, id)
	}
	return nil
}

func (s *Store) CancelCooperative(ctx context.Context, id uuid.UUID, replicaID string) error {
	now := time.Now()
	res, err := s.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("status = ?", job.Cancelled).
		Set("error_kind = ?", job.ErrorKindCancelled).
		Set("error_detail = ?", "cancelled at checkpoint").
		Set("completed_at = ?", now).
		Set("replica_id = ''").
		Set("lease_expires_at = NULL").
		Set("cancel_requested = false").
		Where("id = ?", id).
		Where("status = ?", job.Processing).
		Where("replica_id = ?", replicaID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if !isAffected(res) {
		return s.conflictOrNotFound(ctx, id)
	}
	return nil
}

func (s *Store) RequestCancel(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	now := time.Now()
	res, err := s.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("status = ?", job.Cancelled).
		Set("error_kind = ?", job.ErrorKindCancelled).
		Set("error_detail = ?", "cancelled before dispatch").
		Set("completed_at = ?", now).
		Set("cancel_requested = false").
		Where("id = ?", id).
		Where("status = ?", job.Pending).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	if isAffected(res) {
		return s.Get(ctx, id)
	}

	res, err = s.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("cancel_requested = true").
		Where("id = ?", id).
		Where("status = ?", job.Processing).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	_ = res // a processing job not found here just means it is already terminal; either way fall through to Get

	return s.Get(ctx, id)
}

func (s *Store) Requeue(ctx context.Context, id uuid.UUID, replicaID string) error {
	res, err := s.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("status = ?", job.Pending).
		Set("replica_id = ''").
		Set("started_at = NULL").
		Set("lease_expires_at = NULL").
		Where("id = ?", id).
		Where("status = ?", job.Processing).
		Where("replica_id = ?", replicaID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if !isAffected(res) {
		return s.conflictOrNotFound(ctx, id)
	}
	return nil
}

func (s *Store) ListExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	var models []*jobModel
	q := s.db.NewSelect().
		Model(&models).
		Where("status = ?", job.Processing).
		Where("lease_expires_at < ?", now).
		Order("lease_expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	jobs := make([]*job.Job, len(models))
	for i, m := range models {
		jobs[i] = m.toJob()
	}
	return jobs, nil
}

func (s *Store) Resurrect(ctx context.Context, id uuid.UUID, retryLimit uint32) (job.Status, error) {
	res, err := s.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("status = ?", job.Pending).
		Set("replica_id = ''").
		Set("started_at = NULL").
		Set("lease_expires_at = NULL").
		Set("retry_count = retry_count + 1").
		Where("id = ?", id).
		Where("status = ?", job.Processing).
		Where("retry_count < ?", retryLimit).
		Exec(ctx)
	if err != nil {
		return job.Unknown, err
	}
	if isAffected(res) {
		return job.Pending, nil
	}

	now := time.Now()
	res, err = s.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("status = ?", job.Failed).
		Set("error_kind = ?", job.ErrorKindLost).
		Set("error_detail = ?", "lease expired, retry budget exhausted").
		Set("completed_at = ?", now).
		Set("replica_id = ''").
		Set("lease_expires_at = NULL").
		Where("id = ?", id).
		Where("status = ?", job.Processing).
		Where("retry_count >= ?", retryLimit).
		Exec(ctx)
	if err != nil {
		return job.Unknown, err
	}
	if isAffected(res) {
		return job.Failed, nil
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return job.Unknown, err
	}
	return current.Status, nil
}

func (s *Store) DeleteTerminalOlderThan(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*jobModel)(nil)).
		Where("status IN (?, ?, ?)", job.Completed, job.Failed, job.Cancelled).
		Where("completed_at <= ?", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return getAffected(res), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) conflictOrNotFound(ctx context.Context, id uuid.UUID) error {
	exists, err := s.db.NewSelect().Model((*jobModel)(nil)).Where("id = ?", id).Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{"UNIQUE constraint", "duplicate key", "constraint failed"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
