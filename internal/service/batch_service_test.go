package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/smartgeocode/geobatch/internal/domain"
)

func newTestBatchService(t *testing.T, repo *fakeBatchRepo, ledger *fakeLedger, publisher *fakePublisher) *BatchService {
	t.Helper()

	svc, err := NewBatchService(repo, ledger, publisher, 100, 50, nil)
	if err != nil {
		t.Fatalf("NewBatchService() error = %v", err)
	}
	return svc
}

func TestSubmitCreatesQueuedJob(t *testing.T) {
	t.Parallel()

	repo := newFakeBatchRepo()
	ledger := &fakeLedger{}
	publisher := &fakePublisher{}
	svc := newTestBatchService(t, repo, ledger, publisher)

	upload := csvUpload(
		"10 Main St,,Springfield,IL,62701,USA",
		"N/A,,,,,",
		"20 Oak Ave,,Springfield,IL,62702,USA",
	)

	job, err := svc.Submit(context.Background(), "acct-1", upload)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if job.Status != domain.BatchStatusQueued {
		t.Fatalf("status = %s, want queued", job.Status)
	}
	if job.TotalRows != 2 {
		t.Fatalf("TotalRows = %d, want 2 (N/A row dropped)", job.TotalRows)
	}
	if ledger.reserved != 2 {
		t.Fatalf("reserved = %d, want 2", ledger.reserved)
	}

	if len(publisher.tasks) != 1 {
		t.Fatalf("published tasks = %d, want 1", len(publisher.tasks))
	}
	if publisher.tasks[0].BatchID != job.ID {
		t.Fatalf("task batch id = %s, want %s", publisher.tasks[0].BatchID, job.ID)
	}

	pending, err := repo.PendingRows(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("PendingRows() error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending rows = %d, want 2", len(pending))
	}
	if pending[0].Index != 0 || pending[1].Index != 1 {
		t.Fatalf("row indexes = %d,%d, want 0,1", pending[0].Index, pending[1].Index)
	}
}

func TestSubmitQuotaExceeded(t *testing.T) {
	t.Parallel()

	repo := newFakeBatchRepo()
	ledger := &fakeLedger{reserveErr: domain.ErrQuotaExceeded}
	publisher := &fakePublisher{}
	svc := newTestBatchService(t, repo, ledger, publisher)

	_, err := svc.Submit(context.Background(), "acct-1", csvUpload("10 Main St,,,,,"))
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("Submit() error = %v, want ErrQuotaExceeded", err)
	}

	if len(repo.jobs) != 0 {
		t.Fatal("no job should be persisted when quota is exceeded")
	}
	if len(publisher.tasks) != 0 {
		t.Fatal("nothing should be published when quota is exceeded")
	}
}

func TestSubmitPublishFailureReleasesQuota(t *testing.T) {
	t.Parallel()

	repo := newFakeBatchRepo()
	ledger := &fakeLedger{}
	publisher := &fakePublisher{err: errors.New("broker down")}
	svc := newTestBatchService(t, repo, ledger, publisher)

	_, err := svc.Submit(context.Background(), "acct-1", csvUpload(
		"10 Main St,,,,,",
		"20 Oak Ave,,,,,",
	))
	if err == nil {
		t.Fatal("expected error when publish fails")
	}

	if ledger.released != 2 {
		t.Fatalf("released = %d, want 2", ledger.released)
	}

	for _, job := range repo.jobs {
		if job.Status != domain.BatchStatusFailed {
			t.Fatalf("job status = %s, want failed", job.Status)
		}
	}
}

func TestSubmitRejectsInvalidUpload(t *testing.T) {
	t.Parallel()

	svc := newTestBatchService(t, newFakeBatchRepo(), &fakeLedger{}, &fakePublisher{})

	_, err := svc.Submit(context.Background(), "acct-1", bytes.NewBufferString("name,phone\nbob,555\n"))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Submit() error = %v, want ErrValidation", err)
	}
}

func TestGetStatusOwnerIsolation(t *testing.T) {
	t.Parallel()

	repo := newFakeBatchRepo()
	svc := newTestBatchService(t, repo, &fakeLedger{}, &fakePublisher{})

	job, err := svc.Submit(context.Background(), "acct-1", csvUpload("10 Main St,,,,,"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if _, err := svc.GetStatus(context.Background(), "acct-1", job.ID); err != nil {
		t.Fatalf("GetStatus() as owner error = %v", err)
	}

	_, err = svc.GetStatus(context.Background(), "acct-2", job.ID)
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("GetStatus() as stranger error = %v, want ErrForbidden", err)
	}

	_, err = svc.GetStatus(context.Background(), "acct-1", "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetStatus() missing batch error = %v, want ErrNotFound", err)
	}
}

func TestDownloadRequiresTerminalStatus(t *testing.T) {
	t.Parallel()

	repo := newFakeBatchRepo()
	svc := newTestBatchService(t, repo, &fakeLedger{}, &fakePublisher{})

	job, err := svc.Submit(context.Background(), "acct-1", csvUpload("10 Main St,,,,,"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	var buf bytes.Buffer
	err = svc.Download(context.Background(), "acct-1", job.ID, &buf)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Download() of queued batch error = %v, want ErrConflict", err)
	}

	repo.jobs[job.ID].Status = domain.BatchStatusComplete

	buf.Reset()
	if err := svc.Download(context.Background(), "acct-1", job.ID, &buf); err != nil {
		t.Fatalf("Download() of complete batch error = %v", err)
	}
	if !strings.HasPrefix(buf.String(), "address,") {
		t.Fatalf("download output missing header: %q", buf.String())
	}
}

func TestListReturnsOwnBatchesOnly(t *testing.T) {
	t.Parallel()

	repo := newFakeBatchRepo()
	svc := newTestBatchService(t, repo, &fakeLedger{}, &fakePublisher{})

	if _, err := svc.Submit(context.Background(), "acct-1", csvUpload("10 Main St,,,,,")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := svc.Submit(context.Background(), "acct-2", csvUpload("20 Oak Ave,,,,,")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	jobs, err := svc.List(context.Background(), "acct-1", 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	if jobs[0].Owner != "acct-1" {
		t.Fatalf("owner = %s, want acct-1", jobs[0].Owner)
	}
}
