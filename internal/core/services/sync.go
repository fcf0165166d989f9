package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driving"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/metrics"
)

// Ensure SyncOrchestrator implements the interface
var _ driving.SyncOrchestrator = (*SyncOrchestrator)(nil)

// SyncOrchestrator coordinates resource sync for consents.
// One run follows these steps:
//  1. Resolve the consent and check tenant ownership
//  2. Resolve the effective resource types
//  3. Acquire every lease at once or fail with a conflict
//  4. Per resource type: ensure token, fetch, upsert, complete or fail
//  5. Aggregate the per-type outcomes
type SyncOrchestrator struct {
	consents  driven.ConsentStore
	syncStore driven.SyncStateStore
	records   driven.RecordStore
	steps     driven.StepStore
	fetcher   driven.ResourceFetcher
	tokens    *TokenManager
	queue     driven.TaskQueue
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	logger    *slog.Logger

	leaseTTL       time.Duration
	maxConcurrency int
}

// SyncOrchestratorConfig holds dependencies for SyncOrchestrator.
type SyncOrchestratorConfig struct {
	Consents  driven.ConsentStore
	SyncStore driven.SyncStateStore
	Records   driven.RecordStore
	Steps     driven.StepStore // Optional: durable step memoization
	Fetcher   driven.ResourceFetcher
	Tokens    *TokenManager
	Queue     driven.TaskQueue // Optional: required for Enqueue
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	LeaseTTL       time.Duration // default: domain.DefaultLeaseTTL
	MaxConcurrency int           // resource types fetched in parallel (default: 2)
}

// NewSyncOrchestrator creates a new sync orchestrator.
func NewSyncOrchestrator(cfg SyncOrchestratorConfig) *SyncOrchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	o := &SyncOrchestrator{
		consents:       cfg.Consents,
		syncStore:      cfg.SyncStore,
		records:        cfg.Records,
		steps:          cfg.Steps,
		fetcher:        cfg.Fetcher,
		tokens:         cfg.Tokens,
		queue:          cfg.Queue,
		metrics:        cfg.Metrics,
		tracer:         otel.Tracer("unified-se/sync"),
		logger:         logger,
		leaseTTL:       cfg.LeaseTTL,
		maxConcurrency: cfg.MaxConcurrency,
	}
	if o.leaseTTL <= 0 {
		o.leaseTTL = domain.DefaultLeaseTTL
	}
	if o.maxConcurrency <= 0 {
		o.maxConcurrency = 2
	}
	return o
}

// Sync runs one cycle inline. Per-type failures are recorded in the result,
// never returned as errors.
func (o *SyncOrchestrator) Sync(ctx context.Context, req driving.SyncRequest) (*domain.SyncResult, error) {
	consent, types, err := o.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	lease, err := o.acquire(ctx, consent.ID, types, runID)
	if err != nil {
		return nil, err
	}
	result, _ := o.execute(ctx, consent, types, lease)
	return result, nil
}

// Enqueue acquires the leases and hands the run to the task queue. The worker
// re-enters the run through ResumeRun with the same run id.
func (o *SyncOrchestrator) Enqueue(ctx context.Context, req driving.SyncRequest) (*domain.SyncRun, error) {
	if o.queue == nil {
		return nil, fmt.Errorf("%w: background sync requires a task queue", domain.ErrUnsupportedOperation)
	}
	consent, types, err := o.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	lease, err := o.acquire(ctx, consent.ID, types, runID)
	if err != nil {
		return nil, err
	}

	task := domain.NewSyncConsentTask(consent.TenantID, consent.ID, runID, types)
	if err := o.queue.Enqueue(ctx, task); err != nil {
		o.releaseAll(ctx, consent.ID, types, lease, "enqueue failed: "+err.Error())
		return nil, fmt.Errorf("%w: enqueue sync run: %v", domain.ErrInternal, err)
	}

	o.logger.Info("sync run enqueued", "consent_id", consent.ID, "run_id", runID, "task_id", task.ID, "resource_types", types)
	return &domain.SyncRun{
		RunID:         runID,
		ConsentID:     consent.ID,
		TaskID:        task.ID,
		ResourceTypes: types,
	}, nil
}

// ResumeRun re-enters a run. Steps already memoized as completed for runID
// are reused; the rest re-acquire their lease under the same run id with a
// fresh fencing token. If a later acquisition of the same pairs fences this
// attempt out, ResumeRun returns an error wrapping domain.ErrLeaseLost and
// leaves the outcome to the attempt holding the lease.
func (o *SyncOrchestrator) ResumeRun(ctx context.Context, req driving.SyncRequest, runID string) (*domain.SyncResult, error) {
	if runID == "" {
		return nil, domain.Validationf("run id is required")
	}
	consent, types, err := o.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	memoized := make(map[domain.ResourceType]domain.ResourceResult)
	pending := make([]domain.ResourceType, 0, len(types))
	for _, rt := range types {
		if memo := o.memo(ctx, consent.ID, rt, runID); memo != nil && memo.Status == domain.SyncStatusCompleted {
			memoized[rt] = domain.ResourceResult{Type: rt, Status: memo.Status, RecordsSynced: memo.RecordsSynced}
			continue
		}
		pending = append(pending, rt)
	}

	var fresh *domain.SyncResult
	if len(pending) > 0 {
		lease, err := o.acquire(ctx, consent.ID, pending, runID)
		if err != nil {
			return nil, err
		}
		var lost bool
		fresh, lost = o.execute(ctx, consent, pending, lease)
		if lost {
			return nil, fmt.Errorf("sync run %s for consent %s: %w", runID, consent.ID, domain.ErrLeaseLost)
		}
	}

	result := &domain.SyncResult{ConsentID: consent.ID, RunID: runID, Resources: make([]domain.ResourceResult, 0, len(types))}
	executed := make(map[domain.ResourceType]domain.ResourceResult)
	if fresh != nil {
		result.Duration = fresh.Duration
		for _, r := range fresh.Resources {
			executed[r.Type] = r
		}
	}
	for _, rt := range types {
		if r, ok := memoized[rt]; ok {
			result.Resources = append(result.Resources, r)
		} else {
			result.Resources = append(result.Resources, executed[rt])
		}
	}
	result.Aggregate()

	o.logger.Info("sync run resumed",
		"consent_id", consent.ID,
		"run_id", runID,
		"skipped", len(memoized),
		"executed", len(pending),
		"status", result.Status,
	)
	return result, nil
}

// Status reports the stored per-type states and the derived overall status.
func (o *SyncOrchestrator) Status(ctx context.Context, consentID, tenantID string) (*domain.SyncStatusReport, error) {
	if _, err := o.ownedConsent(ctx, consentID, tenantID); err != nil {
		return nil, err
	}
	states, err := o.syncStore.Get(ctx, consentID)
	if err != nil {
		return nil, fmt.Errorf("%w: get sync states: %v", domain.ErrInternal, err)
	}
	return &domain.SyncStatusReport{
		ConsentID: consentID,
		Overall:   domain.OverallStatus(states, time.Now()),
		States:    states,
	}, nil
}

// Records returns one page of stored records for a resource type the
// consent's provider supports.
func (o *SyncOrchestrator) Records(ctx context.Context, q driving.RecordsQuery) (*domain.RecordPage, error) {
	consent, err := o.ownedConsent(ctx, q.ConsentID, q.TenantID)
	if err != nil {
		return nil, err
	}
	provider, err := boundProvider(consent)
	if err != nil {
		return nil, err
	}
	types, err := domain.ResolveResourceTypes(provider, []string{q.ResourceType})
	if err != nil {
		return nil, err
	}
	rt := types[0]

	switch {
	case q.Offset < 0:
		return nil, domain.Validationf("offset must not be negative")
	case q.Limit < 0 || q.Limit > domain.MaxRecordPageSize:
		return nil, domain.Validationf("limit must be between 1 and %d", domain.MaxRecordPageSize)
	case q.Limit == 0:
		q.Limit = domain.DefaultRecordPageSize
	}

	total, err := o.records.Count(ctx, consent.ID, rt)
	if err != nil {
		return nil, fmt.Errorf("%w: count %s records: %v", domain.ErrInternal, rt, err)
	}
	records, err := o.records.List(ctx, consent.ID, rt, q.Limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s records: %v", domain.ErrInternal, rt, err)
	}
	if records == nil {
		records = []*domain.Record{}
	}
	return &domain.RecordPage{
		ConsentID:    consent.ID,
		ResourceType: rt,
		Limit:        q.Limit,
		Offset:       q.Offset,
		Total:        total,
		Records:      records,
	}, nil
}

// SyncAllAccepted enqueues a full run for every accepted consent. Consents
// with a live lease are skipped.
func (o *SyncOrchestrator) SyncAllAccepted(ctx context.Context) (int, error) {
	consents, err := o.consents.ListByStatus(ctx, domain.ConsentAccepted)
	if err != nil {
		return 0, fmt.Errorf("list accepted consents: %w", err)
	}

	enqueued := 0
	for _, c := range consents {
		if c.Provider == nil {
			continue
		}
		_, err := o.Enqueue(ctx, driving.SyncRequest{ConsentID: c.ID, TenantID: c.TenantID})
		switch {
		case err == nil:
			enqueued++
		case errors.Is(err, domain.ErrConflict):
			o.logger.Debug("sync already running, skipping", "consent_id", c.ID)
		default:
			o.logger.Error("failed to enqueue scheduled sync", "consent_id", c.ID, "error", err)
		}
	}
	return enqueued, nil
}

func (o *SyncOrchestrator) ownedConsent(ctx context.Context, consentID, tenantID string) (*domain.Consent, error) {
	consent, err := o.consents.Get(ctx, consentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("consent %s: %w", consentID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: get consent: %v", domain.ErrInternal, err)
	}
	if consent.TenantID != tenantID {
		return nil, fmt.Errorf("consent %s: %w", consentID, domain.ErrNotFound)
	}
	return consent, nil
}

func (o *SyncOrchestrator) resolve(ctx context.Context, req driving.SyncRequest) (*domain.Consent, []domain.ResourceType, error) {
	consent, err := o.ownedConsent(ctx, req.ConsentID, req.TenantID)
	if err != nil {
		return nil, nil, err
	}
	if consent.Status == domain.ConsentRevoked {
		return nil, nil, domain.Validationf("consent %s is revoked", consent.ID)
	}
	provider, err := boundProvider(consent)
	if err != nil {
		return nil, nil, err
	}
	types, err := domain.ResolveResourceTypes(provider, req.ResourceTypes)
	if err != nil {
		return nil, nil, err
	}
	return consent, types, nil
}

// acquire takes every lease for types under runID. The returned lease carries
// the fencing token its terminal writes must present.
func (o *SyncOrchestrator) acquire(ctx context.Context, consentID string, types []domain.ResourceType, runID string) (domain.Lease, error) {
	lease := domain.Lease{RunID: runID, Token: uuid.NewString(), TTL: o.leaseTTL}
	ok, err := o.syncStore.TrySetSyncing(ctx, consentID, types, lease)
	if err != nil {
		return domain.Lease{}, fmt.Errorf("%w: acquire sync leases: %v", domain.ErrInternal, err)
	}
	if ok {
		return lease, nil
	}

	o.metrics.IncrementLeaseConflicts()
	states, err := o.syncStore.Get(ctx, consentID)
	if err != nil {
		states = nil
	}
	wanted := make(map[domain.ResourceType]bool, len(types))
	for _, rt := range types {
		wanted[rt] = true
	}
	now := time.Now()
	held := make([]domain.ResourceType, 0)
	for _, s := range states {
		if wanted[s.ResourceType] && s.HeldAgainst(runID, now) {
			held = append(held, s.ResourceType)
		}
	}
	return domain.Lease{}, &domain.SyncConflictError{ConsentID: consentID, Held: held, States: states}
}

// execute runs every step under the bounded group. Steps never return errors
// to the group so one failure cannot cancel its siblings. lost reports whether
// any step found its lease taken by another acquisition.
func (o *SyncOrchestrator) execute(ctx context.Context, consent *domain.Consent, types []domain.ResourceType, lease domain.Lease) (*domain.SyncResult, bool) {
	start := time.Now()
	runID := lease.RunID
	provider := string(consent.ProviderType())

	ctx, span := o.tracer.Start(ctx, "sync.run", trace.WithAttributes(
		attribute.String("consent_id", consent.ID),
		attribute.String("run_id", runID),
		attribute.String("provider", provider),
	))
	defer span.End()

	o.logger.Info("starting sync", "consent_id", consent.ID, "run_id", runID, "resource_types", types)

	results := make([]domain.ResourceResult, len(types))
	lostSteps := make([]bool, len(types))
	var g errgroup.Group
	g.SetLimit(o.maxConcurrency)
	for i, rt := range types {
		g.Go(func() error {
			results[i], lostSteps[i] = o.runStep(ctx, consent, rt, lease)
			return nil
		})
	}
	_ = g.Wait()

	lost := false
	for _, l := range lostSteps {
		lost = lost || l
	}

	result := &domain.SyncResult{
		ConsentID: consent.ID,
		RunID:     runID,
		Resources: results,
		Duration:  time.Since(start).Seconds(),
	}
	result.Aggregate()

	span.SetAttributes(
		attribute.String("status", string(result.Status)),
		attribute.Int("records_synced", result.TotalRecordsSynced),
	)
	if result.Status != domain.SyncStatusCompleted {
		span.SetStatus(codes.Error, string(result.Status))
	}
	o.metrics.ObserveSyncRun(provider, string(result.Status), result.Duration)

	o.logger.Info("sync completed",
		"consent_id", consent.ID,
		"run_id", runID,
		"status", result.Status,
		"records_synced", result.TotalRecordsSynced,
		"duration", time.Since(start),
	)
	return result, lost
}

// runStep is one durable unit: token, fetch, upsert, terminal state write.
func (o *SyncOrchestrator) runStep(ctx context.Context, consent *domain.Consent, rt domain.ResourceType, lease domain.Lease) (res domain.ResourceResult, lost bool) {
	res.Type = rt
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("sync step panicked", "consent_id", consent.ID, "resource_type", rt, "panic", r)
			res, lost = o.finishStep(ctx, consent, rt, lease, 0, fmt.Errorf("%w: panic: %v", domain.ErrInternal, r))
		}
	}()

	ctx, span := o.tracer.Start(ctx, "sync.step", trace.WithAttributes(attribute.String("resource_type", string(rt))))
	defer span.End()

	records, err := o.fetchAndStore(ctx, consent, rt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return o.finishStep(ctx, consent, rt, lease, records, err)
}

func (o *SyncOrchestrator) fetchAndStore(ctx context.Context, consent *domain.Consent, rt domain.ResourceType) (int, error) {
	tok, err := o.tokens.EnsureValidToken(ctx, consent.ID)
	if err != nil {
		return 0, fmt.Errorf("ensure token: %w", err)
	}

	fetched, err := o.fetcher.Fetch(ctx, rt, tok, o.tokens.ProviderConfig(ctx, consent))
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", rt, err)
	}
	if fetched == nil {
		return 0, nil
	}

	now := time.Now()
	for _, r := range fetched.Records {
		r.ConsentID = consent.ID
		r.ResourceType = rt
		if r.SyncedAt.IsZero() {
			r.SyncedAt = now
		}
	}
	if len(fetched.Records) > 0 {
		if err := o.records.Upsert(ctx, fetched.Records); err != nil {
			return 0, fmt.Errorf("%w: upsert %s records: %v", domain.ErrInternal, rt, err)
		}
	}

	count := fetched.RecordsSynced
	if count == 0 {
		count = len(fetched.Records)
	}
	return count, nil
}

// finishStep writes the terminal state even when ctx was cancelled, so a
// lease is never left behind by a cancelled request. A write rejected with
// domain.ErrLeaseLost means another acquisition owns the pair; the step is
// reported failed, lost is set and nothing is memoized.
func (o *SyncOrchestrator) finishStep(ctx context.Context, consent *domain.Consent, rt domain.ResourceType, lease domain.Lease, records int, stepErr error) (domain.ResourceResult, bool) {
	wctx := context.WithoutCancel(ctx)
	runID := lease.RunID
	res := domain.ResourceResult{Type: rt, Status: domain.SyncStatusCompleted, RecordsSynced: records}
	provider := string(consent.ProviderType())

	var writeErr error
	if stepErr != nil {
		res.Status = domain.SyncStatusFailed
		res.RecordsSynced = 0
		res.Error = stepErr.Error()
		o.logger.Warn("sync step failed", "consent_id", consent.ID, "run_id", runID, "resource_type", rt, "error", stepErr)
		writeErr = o.syncStore.Fail(wctx, consent.ID, rt, lease.Token, res.Error)
	} else {
		writeErr = o.syncStore.Complete(wctx, consent.ID, rt, lease.Token, records)
	}

	switch {
	case errors.Is(writeErr, domain.ErrLeaseLost):
		o.logger.Warn("sync lease lost before step finished, discarding outcome",
			"consent_id", consent.ID, "run_id", runID, "resource_type", rt, "outcome", res.Status)
		o.metrics.IncrementLeaseConflicts()
		return domain.ResourceResult{
			Type:   rt,
			Status: domain.SyncStatusFailed,
			Error:  domain.ErrLeaseLost.Error(),
		}, true
	case writeErr != nil:
		o.logger.Error("failed to record sync outcome",
			"consent_id", consent.ID, "resource_type", rt, "outcome", res.Status, "error", writeErr)
	}
	o.metrics.ObserveResource(provider, string(rt), string(res.Status), res.RecordsSynced)

	if o.steps != nil {
		memo := &domain.StepMemo{
			RunID:         runID,
			ConsentID:     consent.ID,
			ResourceType:  rt,
			Status:        res.Status,
			RecordsSynced: res.RecordsSynced,
			Error:         res.Error,
			FinishedAt:    time.Now(),
		}
		if err := o.steps.Save(wctx, memo); err != nil {
			o.logger.Warn("failed to memoize sync step", "consent_id", consent.ID, "resource_type", rt, "error", err)
		}
	}
	return res, false
}

func (o *SyncOrchestrator) memo(ctx context.Context, consentID string, rt domain.ResourceType, runID string) *domain.StepMemo {
	if o.steps == nil {
		return nil
	}
	m, err := o.steps.Get(ctx, consentID, rt, runID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			o.logger.Warn("failed to read step memo", "consent_id", consentID, "resource_type", rt, "error", err)
		}
		return nil
	}
	return m
}

func (o *SyncOrchestrator) releaseAll(ctx context.Context, consentID string, types []domain.ResourceType, lease domain.Lease, reason string) {
	wctx := context.WithoutCancel(ctx)
	for _, rt := range types {
		if err := o.syncStore.Fail(wctx, consentID, rt, lease.Token, reason); err != nil {
			o.logger.Error("failed to release sync lease", "consent_id", consentID, "resource_type", rt, "error", err)
		}
	}
}
