package sqlstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/kamalhaddad/texttovideo-orchestrator/job"
	"github.com/kamalhaddad/texttovideo-orchestrator/params"
)

type jobModel struct {
	bun.BaseModel `bun:"table:jobs"`

	Id     uuid.UUID               `bun:"id,pk,type:uuid"`
	Status job.Status              `bun:"status,notnull"`
	Params params.GenerationParams `bun:"params,type:jsonb"`

	Progress *float64 `bun:"progress,nullzero"`

	SubmittedAt time.Time  `bun:"submitted_at,notnull"`
	StartedAt   *time.Time `bun:"started_at,nullzero"`
	CompletedAt *time.Time `bun:"completed_at,nullzero"`

	ReplicaID      string     `bun:"replica_id,nullzero"`
	LeaseExpiresAt *time.Time `bun:"lease_expires_at,nullzero"`

	ArtifactPath string `bun:"artifact_path,nullzero"`

	ErrorKind   job.ErrorKind `bun:"error_kind,nullzero"`
	ErrorDetail string        `bun:"error_detail,nullzero"`

	RetryCount      uint32 `bun:"retry_count,notnull,default:0"`
	CancelRequested bool   `bun:"cancel_requested,notnull,default:false"`
}

func (m *jobModel) toJob() *job.Job {
	return &job.Job{
		Id:              m.Id,
		Status:          m.Status,
		Params:          m.Params,
		Progress:        m.Progress,
		SubmittedAt:     m.SubmittedAt,
		StartedAt:       m.StartedAt,
		CompletedAt:     m.CompletedAt,
		ReplicaID:       m.ReplicaID,
		LeaseExpiresAt:  m.LeaseExpiresAt,
		ArtifactPath:    m.ArtifactPath,
		ErrorKind:       m.ErrorKind,
		ErrorDetail:     m.ErrorDetail,
		RetryCount:      m.RetryCount,
		CancelRequested: m.CancelRequested,
	}
}

func fromJob(j *job.Job) *jobModel {
	return &jobModel{
		Id:              j.Id,
		Status:          j.Status,
		Params:          j.Params,
		Progress:        j.Progress,
		SubmittedAt:     j.SubmittedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
		ReplicaID:       j.ReplicaID,
		LeaseExpiresAt:  j.LeaseExpiresAt,
		ArtifactPath:    j.ArtifactPath,
		ErrorKind:       j.ErrorKind,
		ErrorDetail:     j.ErrorDetail,
		RetryCount:      j.RetryCount,
		CancelRequested: j.CancelRequested,
	}
}
