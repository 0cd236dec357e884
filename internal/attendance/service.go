// Package attendance composes matching, the embedding cache, the ledger and
// storage admission into the enrollment and attendance flows.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kozaktomas/facegate/internal/biocrypt"
	"github.com/kozaktomas/facegate/internal/cache"
	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/facematch"
	"github.com/kozaktomas/facegate/internal/failure"
	"github.com/kozaktomas/facegate/internal/ledger"
	"github.com/kozaktomas/facegate/internal/storage"
	"github.com/kozaktomas/facegate/internal/worker"
)

// ErrInvalidRequest wraps every request-validation error.
var ErrInvalidRequest = errors.New("invalid request")

// Admitter gates persistent writes. *storage.Controller implements it.
type Admitter interface {
	Admit(ctx context.Context) (storage.Admission, error)
}

// Recorder receives flow-level observations. Metrics implement it.
type Recorder interface {
	ObserveAttempt(kind, outcome string)
	ObserveMatch(d time.Duration)
	ObserveEnrollment(outcome string)
}

// Config holds the matching and enrollment policy.
type Config struct {
	Dimension          int
	Thresholds         facematch.Thresholds
	DuplicateThreshold float64

	MinSamples int
	MaxSamples int
	MinQuality float64

	CheckInWindow  time.Duration
	CheckOutWindow time.Duration
	FailureWindow  time.Duration
}

// Validate checks the policy for internal consistency.
func (c Config) Validate() error {
	var errs []error
	if c.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("dimension must be positive, got %d", c.Dimension))
	}
	if c.Thresholds.Default <= 0 || c.Thresholds.Default > 1 {
		errs = append(errs, fmt.Errorf("default threshold must be in (0, 1], got %v", c.Thresholds.Default))
	}
	if c.Thresholds.Strong < c.Thresholds.Default || c.Thresholds.Strong > 1 {
		errs = append(errs, fmt.Errorf("strong threshold must be in [default, 1], got %v", c.Thresholds.Strong))
	}
	if c.MinSamples < 1 || c.MaxSamples < c.MinSamples {
		errs = append(errs, fmt.Errorf("sample bounds must satisfy 1 <= min <= max, got %d..%d", c.MinSamples, c.MaxSamples))
	}
	return errors.Join(errs...)
}

// Window returns the duplicate window for kind.
func (c Config) Window(kind database.EventKind) time.Duration {
	if kind == database.CheckOut {
		return c.CheckOutWindow
	}
	return c.CheckInWindow
}

// Sample is one captured embedding offered for enrollment.
type Sample struct {
	Vector  []float32
	Quality float64
}

// AttendRequest is one live capture presented at a device.
type AttendRequest struct {
	Embedding []float32
	// Image is the captured frame; only its hash is kept. ImageHash may be
	// supplied instead when the frame never reaches this process.
	Image     []byte
	ImageHash string
	Kind      database.EventKind
	DeviceID  string
	// ClaimedOwnerID restricts matching to one owner (badge + face).
	ClaimedOwnerID string
	At             time.Time
}

// Service runs enrollment and attendance.
type Service struct {
	cache     *cache.Cache
	ledger    *ledger.Ledger
	admission Admitter
	sealer    *biocrypt.Sealer
	pool      *worker.Pool
	cfg       Config
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time

	// locks serializes the window check, admission and event insert per
	// (owner, kind), and the identity screen plus template write of enrollments.
	locks worker.KeyedMutex
}

// Option configures a Service.
type Option func(*Service)

// WithRecorder reports flow outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Deps are the collaborators a Service is built from.
type Deps struct {
	Cache     *cache.Cache
	Ledger    *ledger.Ledger
	Admission Admitter
	Sealer    *biocrypt.Sealer
	Pool      *worker.Pool
	Logger    *slog.Logger
}

// New creates a Service.
func New(deps Deps, cfg Config, opts ...Option) (*Service, error) {
	if deps.Cache == nil || deps.Ledger == nil || deps.Admission == nil || deps.Sealer == nil {
		return nil, errors.New("attendance: cache, ledger, admission and sealer are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("attendance config: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pool := deps.Pool
	if pool == nil {
		pool = worker.New(1)
	}
	s := &Service{
		cache:     deps.Cache,
		ledger:    deps.Ledger,
		admission: deps.Admission,
		sealer:    deps.Sealer,
		pool:      pool,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Attend matches a live capture and, when admissible, records an attendance
// event. Every attempt leaves exactly one audit record. The returned error is
// non-nil only for malformed requests; operational failures come back as Failed.
func (s *Service) Attend(ctx context.Context, req AttendRequest) (AttendanceOutcome, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown event kind %q", ErrInvalidRequest, req.Kind)
	}
	if len(req.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrInvalidRequest)
	}
	if req.ImageHash == "" && len(req.Image) == 0 {
		return nil, fmt.Errorf("%w: image or image hash required", ErrInvalidRequest)
	}

	at := req.At
	if at.IsZero() {
		at = s.now()
	}
	hash := req.ImageHash
	if hash == "" {
		hash = biocrypt.Hash(req.Image)
	}
	claimed := facematch.NormalizeOwnerID(req.ClaimedOwnerID)
	ac := ledger.AttemptContext{Kind: req.Kind, ClaimedOwnerID: claimed, At: at}

	out := s.attend(ctx, req, hash, ac)
	label := OutcomeLabel(out)
	if s.recorder != nil {
		s.recorder.ObserveAttempt(string(req.Kind), label)
	}

	audit := out.AuditRecord()
	if _, ok := out.(Admitted); !ok {
		s.logRefusal(ctx, audit, label)
	}
	return out, nil
}

func (s *Service) attend(ctx context.Context, req AttendRequest, hash string, ac ledger.AttemptContext) AttendanceOutcome {
	fail := func(decision facematch.Decision, err error) AttendanceOutcome {
		ac.Rejection = err.Error()
		rec, _ := s.ledger.RecordAttempt(ctx, decision, hash, req.DeviceID, ac)
		return Failed{Err: err, Audit: rec}
	}

	if len(req.Embedding) != s.cfg.Dimension {
		return fail(facematch.NoMatch{}, failure.DimensionMismatch(len(req.Embedding), s.cfg.Dimension))
	}

	var (
		candidates []facematch.Candidate
		err        error
	)
	if ac.ClaimedOwnerID != "" {
		candidates, err = s.cache.ForOwner(ctx, ac.ClaimedOwnerID)
	} else {
		candidates, err = s.cache.All(ctx)
	}
	if err != nil {
		return fail(facematch.NoMatch{}, err)
	}

	start := time.Now()
	decision, err := facematch.MatchFace(req.Embedding, candidates, s.cfg.Thresholds.Default)
	if s.recorder != nil {
		s.recorder.ObserveMatch(time.Since(start))
	}
	if err != nil {
		return fail(facematch.NoMatch{}, err)
	}

	m, ok := decision.(facematch.Match)
	if !ok {
		reason, msg := ReasonNoMatch, ""
		if ac.ClaimedOwnerID != "" {
			reason, msg = ReasonOwnerMismatch, "face did not match claimed owner "+ac.ClaimedOwnerID
			ac.Rejection = msg
		}
		rec, _ := s.ledger.RecordAttempt(ctx, decision, hash, req.DeviceID, ac)
		return Rejected{Reason: reason, Message: rec.ErrorMessage, Audit: rec}
	}

	unlock := s.locks.Lock("attend/" + m.OwnerID + "/" + string(req.Kind))
	defer unlock()

	window := s.cfg.Window(req.Kind)
	allowed, err := s.ledger.CanRecord(ctx, m.OwnerID, req.Kind, window, ac.At)
	if err != nil {
		return fail(m, err)
	}
	if !allowed {
		ac.Rejection = fmt.Sprintf("duplicate %s within %s", req.Kind, window)
		rec, _ := s.ledger.RecordAttempt(ctx, m, hash, req.DeviceID, ac)
		return Rejected{Reason: ReasonDuplicateWindow, Message: ac.Rejection, OwnerID: m.OwnerID, Audit: rec}
	}

	adm, err := s.admission.Admit(ctx)
	if err != nil {
		return fail(m, err)
	}

	ev, err := s.ledger.RecordAdmissibleEvent(ctx, m, req.Kind, req.DeviceID, ac.At)
	if err != nil {
		return fail(m, err)
	}

	rec, _ := s.ledger.RecordAttempt(ctx, m, hash, req.DeviceID, ac)
	s.logger.Info("attendance recorded",
		"owner_id", ev.OwnerID,
		"kind", ev.Kind,
		"confidence", ev.Confidence,
		"late", ev.IsLate,
		"early_departure", ev.IsEarlyDeparture,
		"device_id", ev.DeviceID,
	)
	return Admitted{
		Event:  ev,
		Audit:  rec,
		Strong: s.cfg.Thresholds.IsStrong(m.Confidence),
		Alert:  adm.Alert,
	}
}

// logRefusal surfaces repeated failures for one owner as a brute-force signal.
func (s *Service) logRefusal(ctx context.Context, audit database.AuditRecord, label string) {
	attrs := []any{
		"outcome", label,
		"owner_id", audit.OwnerID,
		"kind", audit.Kind,
		"device_id", audit.DeviceID,
		"attempt", audit.AttemptNumber,
		"reason", audit.ErrorMessage,
	}
	if audit.OwnerID != "" && s.cfg.FailureWindow > 0 {
		n, err := s.ledger.RecentFailures(ctx, audit.OwnerID, s.cfg.FailureWindow)
		if err != nil {
			s.logger.Warn("counting recent failures", "owner_id", audit.OwnerID, "error", err)
		} else {
			attrs = append(attrs, "recent_failures", n)
		}
	}
	s.logger.Warn("attendance refused", attrs...)
}

// Enroll stores samples as ownerID's templates, replacing any previous set.
// Policy refusals come back as EnrollmentRejected; dimension mismatches,
// storage refusals and store errors as errors.
func (s *Service) Enroll(ctx context.Context, ownerID string, samples []Sample) (EnrollmentOutcome, error) {
	out, err := s.enroll(ctx, ownerID, samples)
	if s.recorder != nil {
		label := "error"
		switch o := out.(type) {
		case Enrolled:
			label = "enrolled"
		case EnrollmentRejected:
			label = string(o.Reason)
		}
		s.recorder.ObserveEnrollment(label)
	}
	return out, err
}

func (s *Service) enroll(ctx context.Context, ownerID string, samples []Sample) (EnrollmentOutcome, error) {
	owner := facematch.NormalizeOwnerID(ownerID)
	if owner == "" {
		return nil, fmt.Errorf("%w: empty owner id", ErrInvalidRequest)
	}

	if len(samples) < s.cfg.MinSamples || len(samples) > s.cfg.MaxSamples {
		return EnrollmentRejected{
			OwnerID: owner,
			Reason:  ReasonSampleCount,
			Message: fmt.Sprintf("need %d to %d samples, got %d", s.cfg.MinSamples, s.cfg.MaxSamples, len(samples)),
		}, nil
	}

	vectors := make([][]float32, len(samples))
	for i, smp := range samples {
		if len(smp.Vector) != s.cfg.Dimension {
			return nil, failure.DimensionMismatch(len(smp.Vector), s.cfg.Dimension)
		}
		if smp.Quality < s.cfg.MinQuality || smp.Quality > 100 {
			return EnrollmentRejected{
				OwnerID: owner,
				Reason:  ReasonLowQuality,
				Message: fmt.Sprintf("sample %d quality %.1f outside [%.1f, 100]", i+1, smp.Quality, s.cfg.MinQuality),
			}, nil
		}
		vectors[i] = smp.Vector
	}

	centroid, err := facematch.AverageEmbeddings(vectors)
	if errors.Is(err, facematch.ErrDegenerateTemplate) {
		return EnrollmentRejected{OwnerID: owner, Reason: ReasonDegenerate, Message: err.Error()}, nil
	}
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	templates := make([]database.EnrollmentTemplate, len(samples))
	for i, smp := range samples {
		sealed, err := s.sealer.SealVector(smp.Vector)
		if err != nil {
			return nil, fmt.Errorf("sealing sample %d: %w", i+1, err)
		}
		templates[i] = database.EnrollmentTemplate{
			OwnerID:         owner,
			EncryptedVector: sealed,
			SampleIndex:     i + 1,
			QualityScore:    smp.Quality,
			CreatedAt:       now,
		}
	}

	// One enrollment at a time: the screen must see every owner written before it.
	unlock := s.locks.Lock("enroll")
	defer unlock()

	if s.cfg.DuplicateThreshold > 0 {
		conflict, err := s.nearestOtherOwner(ctx, owner, centroid)
		if err != nil {
			return nil, err
		}
		if conflict != nil && conflict.Similarity >= s.cfg.DuplicateThreshold {
			s.logger.Warn("enrollment matches another owner",
				"owner_id", owner,
				"conflict_owner_id", conflict.OwnerID,
				"similarity", conflict.Similarity,
			)
			return EnrollmentRejected{
				OwnerID:         owner,
				Reason:          ReasonDuplicateIdentity,
				Message:         fmt.Sprintf("samples match already enrolled owner %s", conflict.OwnerID),
				ConflictOwnerID: conflict.OwnerID,
				Similarity:      conflict.Similarity,
			}, nil
		}
	}

	adm, err := s.admission.Admit(ctx)
	if err != nil {
		return nil, err
	}

	// Replacing by stored rows, not decrypted ones, also clears corrupt templates.
	removed, err := s.cache.ReplaceOwner(ctx, owner, templates)
	if err != nil {
		return nil, err
	}
	replaced := removed > 0

	s.logger.Info("owner enrolled", "owner_id", owner, "samples", len(templates), "replaced", replaced)
	return Enrolled{OwnerID: owner, Samples: len(templates), Replaced: replaced, Alert: adm.Alert}, nil
}

// nearestOtherOwner screens centroid against every other enrolled owner.
func (s *Service) nearestOtherOwner(ctx context.Context, owner string, centroid []float32) (*facematch.Neighbor, error) {
	all, err := s.cache.All(ctx)
	if err != nil {
		return nil, err
	}
	centroids, err := facematch.Centroids(all)
	if err != nil {
		return nil, err
	}
	ix := facematch.NewOwnerIndex(centroids)
	nearest, err := ix.Nearest(centroid, 1, owner)
	if err != nil {
		return nil, err
	}
	if len(nearest) == 0 {
		return nil, nil
	}
	return &nearest[0], nil
}

// AttendAsync runs Attend on the worker pool.
func (s *Service) AttendAsync(ctx context.Context, req AttendRequest) *worker.Future[AttendanceOutcome] {
	return worker.Submit(ctx, s.pool, func(ctx context.Context) (AttendanceOutcome, error) {
		return s.Attend(ctx, req)
	})
}

// EnrollAsync runs Enroll on the worker pool.
func (s *Service) EnrollAsync(ctx context.Context, ownerID string, samples []Sample) *worker.Future[EnrollmentOutcome] {
	return worker.Submit(ctx, s.pool, func(ctx context.Context) (EnrollmentOutcome, error) {
		return s.Enroll(ctx, ownerID, samples)
	})
}

// RemoveOwner deletes every template of ownerID and returns how many were removed.
// Ledger history is kept.
func (s *Service) RemoveOwner(ctx context.Context, ownerID string) (int64, error) {
	owner := facematch.NormalizeOwnerID(ownerID)
	if owner == "" {
		return 0, fmt.Errorf("%w: empty owner id", ErrInvalidRequest)
	}
	unlock := s.locks.Lock("enroll")
	defer unlock()

	n, err := s.cache.DeleteOwner(ctx, owner)
	if err != nil {
		return 0, err
	}
	s.logger.Info("owner removed", "owner_id", owner, "templates", n)
	return n, nil
}

// LastEvent returns ownerID's most recent attendance event, or nil.
func (s *Service) LastEvent(ctx context.Context, ownerID string) (*database.AttendanceEvent, error) {
	return s.ledger.LastEventForOwner(ctx, facematch.NormalizeOwnerID(ownerID))
}

// CacheStats reports the embedding cache counters.
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}
