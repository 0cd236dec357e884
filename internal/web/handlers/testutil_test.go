package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/facegate/internal/attendance"
	"github.com/kozaktomas/facegate/internal/cache"
	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/storage"
	"github.com/kozaktomas/facegate/internal/worker"
)

// fakeService is a scripted Attender.
type fakeService struct {
	attendOut attendance.AttendanceOutcome
	attendErr error
	enrollOut attendance.EnrollmentOutcome
	enrollErr error
	removed   int64
	last      *database.AttendanceEvent

	// pool runs submitted work; a one-slot pool is created on first use.
	pool      *worker.Pool
	submitted int

	gotAttend attendance.AttendRequest
	gotOwner  string
	gotCount  int
}

func (f *fakeService) workers() *worker.Pool {
	if f.pool == nil {
		f.pool = worker.New(1)
	}
	return f.pool
}

func (f *fakeService) AttendAsync(ctx context.Context, req attendance.AttendRequest) *worker.Future[attendance.AttendanceOutcome] {
	f.submitted++
	return worker.Submit(ctx, f.workers(), func(ctx context.Context) (attendance.AttendanceOutcome, error) {
		f.gotAttend = req
		return f.attendOut, f.attendErr
	})
}

func (f *fakeService) EnrollAsync(ctx context.Context, ownerID string, samples []attendance.Sample) *worker.Future[attendance.EnrollmentOutcome] {
	f.submitted++
	return worker.Submit(ctx, f.workers(), func(ctx context.Context) (attendance.EnrollmentOutcome, error) {
		f.gotOwner = ownerID
		f.gotCount = len(samples)
		return f.enrollOut, f.enrollErr
	})
}

func (f *fakeService) RemoveOwner(ctx context.Context, ownerID string) (int64, error) {
	f.gotOwner = ownerID
	return f.removed, nil
}

func (f *fakeService) LastEvent(ctx context.Context, ownerID string) (*database.AttendanceEvent, error) {
	f.gotOwner = ownerID
	return f.last, nil
}

func (f *fakeService) CacheStats() cache.Stats {
	return cache.Stats{Hits: 3, Misses: 1, OwnerEntries: 2}
}

// fakeLedger is an in-memory LedgerReader.
type fakeLedger struct {
	audits    []database.AuditRecord
	events    []database.AttendanceEvent
	gotLimit  int
	gotStart  time.Time
	gotEnd    time.Time
	gotSynced []string
}

func (f *fakeLedger) RecentAudits(ctx context.Context, limit int) ([]database.AuditRecord, error) {
	f.gotLimit = limit
	return f.audits, nil
}

func (f *fakeLedger) EventsBetween(ctx context.Context, start, end time.Time) ([]database.AttendanceEvent, error) {
	f.gotStart, f.gotEnd = start, end
	return f.events, nil
}

func (f *fakeLedger) MarkSynced(ctx context.Context, ids []string) (int64, error) {
	f.gotSynced = ids
	return int64(len(ids)), nil
}

type fakeHealth struct{ health storage.Health }

func (f fakeHealth) Health(ctx context.Context) (storage.Health, error) {
	return f.health, nil
}

// jsonRequest builds a request with a JSON body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// decodeBody unmarshals a recorder body into dst
func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), dst); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", recorder.Body.String(), err)
	}
}
