package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/smartgeocode/geobatch/internal/domain"
	"github.com/smartgeocode/geobatch/internal/provider"
	"github.com/smartgeocode/geobatch/internal/queue"
)

type fakeBatchRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.BatchJob
	rows map[string][]domain.Row

	appendErr   error
	appendCalls int
	failAfter   int
}

func newFakeBatchRepo() *fakeBatchRepo {
	return &fakeBatchRepo{
		jobs: make(map[string]*domain.BatchJob),
		rows: make(map[string][]domain.Row),
	}
}

func (f *fakeBatchRepo) Create(_ context.Context, job *domain.BatchJob, rows []domain.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	jobCopy := *job
	f.jobs[job.ID] = &jobCopy
	f.rows[job.ID] = append([]domain.Row(nil), rows...)
	return nil
}

func (f *fakeBatchRepo) GetByID(_ context.Context, id string) (*domain.BatchJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	jobCopy := *job
	return &jobCopy, nil
}

func (f *fakeBatchRepo) ListByOwner(_ context.Context, owner string, limit int) ([]domain.BatchJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var jobs []domain.BatchJob
	for _, job := range f.jobs {
		if job.Owner == owner {
			jobs = append(jobs, *job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (f *fakeBatchRepo) UpdateStatus(_ context.Context, id string, from []domain.BatchStatus, to domain.BatchStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if len(from) > 0 {
		allowed := false
		for _, status := range from {
			if job.Status == status {
				allowed = true
				break
			}
		}
		if !allowed {
			return domain.ErrConflict
		}
	}
	job.Status = to
	return nil
}

func (f *fakeBatchRepo) AdvanceProgress(_ context.Context, id string, processed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if processed > job.ProcessedRows {
		job.ProcessedRows = processed
	}
	if job.ProcessedRows > job.TotalRows {
		job.ProcessedRows = job.TotalRows
	}
	return nil
}

func (f *fakeBatchRepo) AppendRow(_ context.Context, row *domain.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.appendCalls++
	if f.appendErr != nil && (f.failAfter == 0 || f.appendCalls > f.failAfter) {
		return f.appendErr
	}

	rows := f.rows[row.BatchID]
	for i := range rows {
		if rows[i].Index == row.Index {
			rows[i] = *row
			return nil
		}
	}
	f.rows[row.BatchID] = append(rows, *row)
	return nil
}

func (f *fakeBatchRepo) PendingRows(_ context.Context, batchID string) ([]domain.Row, error) {
	return f.rowsWhere(batchID, func(r domain.Row) bool { return r.Status == domain.RowStatusPending })
}

func (f *fakeBatchRepo) Rows(_ context.Context, batchID string) ([]domain.Row, error) {
	return f.rowsWhere(batchID, func(domain.Row) bool { return true })
}

func (f *fakeBatchRepo) Preview(_ context.Context, batchID string, n int) ([]domain.Row, error) {
	rows, err := f.rowsWhere(batchID, func(r domain.Row) bool { return r.Status != domain.RowStatusPending })
	if err != nil {
		return nil, err
	}
	if n > 0 && len(rows) > n {
		rows = rows[len(rows)-n:]
	}
	return rows, nil
}

func (f *fakeBatchRepo) rowsWhere(batchID string, keep func(domain.Row) bool) ([]domain.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []domain.Row
	for _, row := range f.rows[batchID] {
		if keep(row) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

type fakeLedger struct {
	mu       sync.Mutex
	reserved int
	released int

	reserveErr error
	usage      *domain.Usage
}

func (f *fakeLedger) CheckAndReserve(_ context.Context, _ string, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reserveErr != nil {
		return f.reserveErr
	}
	f.reserved += n
	return nil
}

func (f *fakeLedger) Release(_ context.Context, _ string, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released += n
	return nil
}

func (f *fakeLedger) Current(_ context.Context, owner string) (*domain.Usage, error) {
	if f.usage != nil {
		return f.usage, nil
	}
	return &domain.Usage{Owner: owner, Limit: domain.FreeTierLimit}, nil
}

type fakePublisher struct {
	mu    sync.Mutex
	tasks []queue.BatchTask
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, _ string, task queue.BatchTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

// fakeGeocoder resolves every address to fixed coordinates unless the address
// is registered in fail (permanent) or flaky (transient, succeeds on the
// given attempt).
type fakeGeocoder struct {
	mu      sync.Mutex
	calls   map[string]int
	fail    map[string]error
	flakyOK map[string]int
}

func newFakeGeocoder() *fakeGeocoder {
	return &fakeGeocoder{
		calls:   make(map[string]int),
		fail:    make(map[string]error),
		flakyOK: make(map[string]int),
	}
}

func (f *fakeGeocoder) Name() string { return "fake" }

func (f *fakeGeocoder) Geocode(_ context.Context, fields provider.AddressFields) (*provider.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[fields.Address]++
	if err, ok := f.fail[fields.Address]; ok {
		return nil, err
	}
	if okOn, ok := f.flakyOK[fields.Address]; ok && f.calls[fields.Address] < okOn {
		return nil, &provider.GeocodeError{StatusCode: 503, Message: "upstream busy", Transient: true}
	}

	return &provider.Result{
		Lat:              40.0,
		Lng:              -74.0,
		FormattedAddress: fmt.Sprintf("%s (resolved)", fields.Address),
		Confidence:       0.95,
	}, nil
}

func (f *fakeGeocoder) callCount(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[address]
}

type fakeRateLimiter struct {
	waitErr error
}

func (f *fakeRateLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (f *fakeRateLimiter) Wait(context.Context, string) error { return f.waitErr }

var errStorageDown = errors.New("storage down")

func csvUpload(rows ...string) *bytes.Buffer {
	buf := &bytes.Buffer{}
	buf.WriteString("address,landmark,city,state,zip,country\n")
	for _, row := range rows {
		buf.WriteString(row)
		buf.WriteString("\n")
	}
	return buf
}
