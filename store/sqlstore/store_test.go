package sqlstore_test

import (
	"context"
	gosql "database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "modernc.org/sqlite"

	"github.com/kamalhaddad/texttovideo-orchestrator/job"
	"github.com/kamalhaddad/texttovideo-orchestrator/params"
	"github.com/kamalhaddad/texttovideo-orchestrator/store"
	"github.com/kamalhaddad/texttovideo-orchestrator/store/sqlstore"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	sqlDB, err := gosql.Open("sqlite", "file::memory:?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	db := bun.NewDB(sqlDB, sqlitedialect.New())
	if err := sqlstore.InitDB(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	return db
}

func newPendingJob() *job.Job {
	return &job.Job{
		Id:          uuid.New(),
		Status:      job.Pending,
		Params:      params.GenerationParams{Prompt: "a cat", NumFrames: 84},
		SubmittedAt: time.Now(),
	}
}

func TestCreateGetRoundTrip(t *testing.T) {
	db := newTestDB(t)
	s := sqlstore.New(db)
	ctx := context.Background()

	jb := newPendingJob()
	if err := s.Create(ctx, jb); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, jb.Id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.Pending || got.Params.Prompt != "a cat" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestCreateDuplicateFails(t *testing.T) {
	db := newTestDB(t)
	s := sqlstore.New(db)
	ctx := context.Background()

	jb := newPendingJob()
	if err := s.Create(ctx, jb); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, jb); err != store.ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	db := newTestDB(t)
	s := sqlstore.New(db)
	if _, err := s.Get(context.Background(), uuid.New()); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClaimThenConflictOnSecondClaim(t *testing.T) {
	db := newTestDB(t)
	s := sqlstore.New(db)
	ctx := context.Background()

	jb := newPendingJob()
	if err := s.Create(ctx, jb); err != nil {
		t.Fatal(err)
	}

	claimed, err := s.Claim(ctx, jb.Id, "replica-a", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if claimed.Status != job.Processing || claimed.ReplicaID != "replica-a" {
		t.Fatalf("unexpected claimed record: %+v", claimed)
	}

	if _, err := s.Claim(ctx, jb.Id, "replica-b", time.Minute); err != store.ErrConflict {
		t.Fatalf("expected ErrConflict on second claim, got %v", err)
	}
}

func TestCompleteRequiresOwningReplica(t *testing.T) {
	db := newTestDB(t)
	s := sqlstore.New(db)
	ctx := context.Background()

	jb := newPendingJob()
	if err := s.Create(ctx, jb); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Claim(ctx, jb.Id, "replica-a", time.Minute); err != nil {
		t.Fatal(err)
	}

	if err := s.Complete(ctx, jb.Id, "replica-b", "/out.mp4"); err != store.ErrConflict {
		t.Fatalf("expected ErrConflict from wrong replica, got %v", err)
	}

	if err := s.Complete(ctx, jb.Id, "replica-a", "/out.mp4"); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, jb.Id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.Completed || got.ArtifactPath != "/out.mp4" || got.ReplicaID != "" {
		t.Fatalf("unexpected completed record: %+v", got)
	}
}

func TestRequestCancelPendingIsImmediate(t *testing.T) {
	db := newTestDB(t)
	s := sqlstore.New(db)
	ctx := context.Background()

	jb := newPendingJob()
	if err := s.Create(ctx, jb); err != nil {
		t.Fatal(err)
	}

	got, err := s.RequestCancel(ctx, jb.Id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.Cancelled {
		t.Fatalf("expected immediate cancellation, got %v", got.Status)
	}
}

func TestRequestCancelProcessingMarksFlag(t *testing.T) {
	db := newTestDB(t)
	s := sqlstore.New(db)
	ctx := context.Background()

	jb := newPendingJob()
	if err := s.Create(ctx, jb); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Claim(ctx, jb.Id, "replica-a", time.Minute); err != nil {
		t.Fatal(err)
	}

	got, err := s.RequestCancel(ctx, jb.Id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.Processing || !got.CancelRequested {
		t.Fatalf("expected cancel_requested on processing job, got %+v", got)
	}
}

func TestRequestCancelTerminalIsNoop(t *testing.T) {
	db := newTestDB(t)
	s := sqlstore.New(db)
	ctx := context.Background()

	jb := newPendingJob()
	if err := s.Create(ctx, jb); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Claim(ctx, jb.Id, "replica-a", time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := s.Complete(ctx, jb.Id, "replica-a", "/out.mp4"); err != nil {
		t.Fatal(err)
	}

	got, err := s.RequestCancel(ctx, jb.Id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.Completed {
		t.Fatalf("expected terminal job unaffected, got %v", got.Status)
	}
}

func TestResurrectRetriesThenExhausts(t *testing.T) {
	db := newTestDB(t)
	s := sqlstore.New(db)
	ctx := context.Background()

	jb := newPendingJob()
	if err := s.Create(ctx, jb); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Claim(ctx, jb.Id, "replica-a", time.Millisecond); err != nil {
		t.Fatal(err)
	}

	status, err := s.Resurrect(ctx, jb.Id, 1)
	if err != nil {
		t.Fatal(err)
	}
	if status != job.Pending {
		t.Fatalf("expected first resurrection to Pending, got %v", status)
	}

	got, err := s.Get(ctx, jb.Id)
	if err != nil {
		t.Fatal(err)
	}
	if got.RetryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", got.RetryCount)
	}

	if _, err := s.Claim(ctx, jb.Id, "replica-b", time.Millisecond); err != nil {
		t.Fatal(err)
	}
	status, err = s.Resurrect(ctx, jb.Id, 1)
	if err != nil {
		t.Fatal(err)
	}
	if status != job.Failed {
		t.Fatalf("expected exhausted retries to Failed, got %v", status)
	}

	got, err = s.Get(ctx, jb.Id)
	if err != nil {
		t.Fatal(err)
	}
	if got.ErrorKind != job.ErrorKindLost {
		t.Fatalf("expected error_kind=lost, got %v", got.ErrorKind)
	}
}

func TestListFiltersAndPaginates(t *testing.T) {
	db := newTestDB(t)
	s := sqlstore.New(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		jb := newPendingJob()
		if err := s.Create(ctx, jb); err != nil {
			t.Fatal(err)
		}
	}
	extra := newPendingJob()
	if err := s.Create(ctx, extra); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Claim(ctx, extra.Id, "replica-a", time.Minute); err != nil {
		t.Fatal(err)
	}

	res, err := s.List(ctx, store.ListFilter{Status: job.Pending}, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 3 || res.TotalPages != 2 || len(res.Jobs) != 2 {
		t.Fatalf("unexpected list result: %+v", res)
	}
}

func TestDeleteTerminalOlderThan(t *testing.T) {
	db := newTestDB(t)
	s := sqlstore.New(db)
	ctx := context.Background()

	jb := newPendingJob()
	if err := s.Create(ctx, jb); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Claim(ctx, jb.Id, "replica-a", time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := s.Complete(ctx, jb.Id, "replica-a", "/out.mp4"); err != nil {
		t.Fatal(err)
	}

	n, err := s.DeleteTerminalOlderThan(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted row, got %d", n)
	}
	if _, err := s.Get(ctx, jb.Id); err != store.ErrNotFound {
		t.Fatalf("expected job gone, got %v", err)
	}
}
