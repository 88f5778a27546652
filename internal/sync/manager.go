package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"homehealth-sync-service/internal/config"
	"homehealth-sync-service/internal/logger"
	"homehealth-sync-service/internal/metrics"
	"homehealth-sync-service/internal/model"
	"homehealth-sync-service/internal/remote"
	"homehealth-sync-service/internal/store"
)

// ErrCycleRunning is returned by operations that need the cycle guard
// while a cycle holds it.
var ErrCycleRunning = errors.New("sync cycle already running")

// maxBackfillPerCycle bounds the remote creates one backfill step makes.
const maxBackfillPerCycle = 25

// Deps are the collaborators a Manager drives.
type Deps struct {
	Store    store.Store
	Sheets   remote.Spreadsheet
	Calendar remote.Calendar
	Auth     remote.Auth
	Metrics  *metrics.Metrics
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Manager is the sync orchestrator. It owns the queue, runs cycles and
// keeps the state observers read.
type Manager struct {
	cfg        config.SyncConfig
	remote     config.RemoteConfig
	loc        *time.Location
	store      store.Store
	queue      *Queue
	dispatcher *Dispatcher
	worker     *Worker
	reconciler *Reconciler
	mutations  *Mutations
	sheets     remote.Spreadsheet
	calendar   remote.Calendar
	auth       remote.Auth
	metrics    *metrics.Metrics
	now        func() time.Time

	running      atomic.Bool
	drainPending atomic.Bool
	calendarLock *semaphore.Weighted

	mu            sync.Mutex
	cooldowns     map[string]time.Time
	lastError     string
	lastCycleAt   *time.Time
	lastSuccessAt *time.Time
	lastResult    *CycleResult
	observers     []func(CycleResult)
	drainTimer    *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(cfg *config.Config, deps Deps) (*Manager, error) {
	if deps.Store == nil || deps.Sheets == nil || deps.Calendar == nil || deps.Auth == nil {
		return nil, fmt.Errorf("manager requires a store, both remote collaborators and auth")
	}
	loc, err := cfg.Remote.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %w", err)
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}

	policy := DefaultBackoff()
	if cfg.Sync.MaxRetries > 0 {
		policy.MaxRetries = cfg.Sync.MaxRetries
	}
	queue := NewQueue(deps.Store, policy)
	queue.now = now
	dispatcher := NewDispatcher(deps.Store, deps.Sheets, deps.Calendar, cfg.Remote, loc)
	dispatcher.now = now
	reconciler := NewReconciler(deps.Store, queue, loc)
	reconciler.now = now
	mutations := NewMutations(deps.Store, queue)
	mutations.now = now

	mgr := &Manager{
		cfg:          cfg.Sync,
		remote:       cfg.Remote,
		loc:          loc,
		store:        deps.Store,
		queue:        queue,
		dispatcher:   dispatcher,
		worker:       newWorker(queue, dispatcher, m),
		reconciler:   reconciler,
		mutations:    mutations,
		sheets:       deps.Sheets,
		calendar:     deps.Calendar,
		auth:         deps.Auth,
		metrics:      m,
		now:          now,
		calendarLock: semaphore.NewWeighted(1),
		cooldowns:    make(map[string]time.Time),
	}
	mutations.onChange = mgr.scheduleDrain
	return mgr, nil
}

func (m *Manager) Queue() *Queue { return m.queue }

func (m *Manager) Mutations() *Mutations { return m.mutations }

func (m *Manager) Metrics() *metrics.Metrics { return m.metrics }

func (m *Manager) Store() store.Store { return m.store }

// Start recovers interrupted queue items, purges old synced ones and kicks
// off a startup cycle in the background.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.ctx != nil {
		m.mu.Unlock()
		return fmt.Errorf("sync manager is already started")
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.mu.Unlock()

	logger.Log.Info("Starting sync manager")

	if _, err := m.queue.Recover(m.ctx); err != nil {
		return fmt.Errorf("recover queue: %w", err)
	}
	if m.cfg.PurgeSyncedAfter > 0 {
		n, err := m.queue.PurgeSynced(m.ctx, m.cfg.PurgeSyncedAfter)
		if err != nil {
			logger.Log.Warn("Failed to purge synced queue items", zap.Error(err))
		} else if n > 0 {
			logger.Log.Info("Purged synced queue items", zap.Int64("count", n))
		}
	}
	m.refreshPending(m.ctx)
	m.Trigger(TriggerStartup)
	return nil
}

// Stop cancels scheduled drains and waits for background cycles.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.cancel == nil {
		m.mu.Unlock()
		return
	}
	logger.Log.Info("Stopping sync manager")
	m.cancel()
	if m.drainTimer != nil {
		m.drainTimer.Stop()
		m.drainTimer = nil
	}
	m.mu.Unlock()

	m.wg.Wait()

	m.mu.Lock()
	m.ctx, m.cancel = nil, nil
	m.mu.Unlock()
}

func (m *Manager) Close() error {
	m.Stop()
	return m.store.Close()
}

// GetStatus reports StateRunning while a cycle is in flight.
func (m *Manager) GetStatus() string {
	if m.running.Load() {
		return StateRunning
	}
	return StateIdle
}

// Status snapshots the observable state.
func (m *Manager) Status(ctx context.Context) Status {
	pending, err := m.queue.PendingCount(ctx)
	if err != nil {
		logger.Log.Warn("Failed to count pending queue items", zap.Error(err))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		State:         m.GetStatus(),
		PendingCount:  pending,
		LastError:     m.lastError,
		LastCycleAt:   m.lastCycleAt,
		LastSuccessAt: m.lastSuccessAt,
	}
	if m.lastResult != nil {
		r := *m.lastResult
		st.LastResult = &r
	}
	return st
}

// OnCycleComplete registers fn to run after every finished cycle.
func (m *Manager) OnCycleComplete(fn func(CycleResult)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Trigger starts a cycle in the background. It does nothing before Start
// or after Stop; a cycle already in flight absorbs the request.
func (m *Manager) Trigger(trigger Trigger) {
	m.mu.Lock()
	ctx := m.ctx
	if ctx == nil || ctx.Err() != nil {
		m.mu.Unlock()
		logger.Log.Debug("Sync manager not started, ignoring trigger", zap.String("trigger", string(trigger)))
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.RunCycle(ctx, trigger)
	}()
}

// NotifyAuthChanged runs a cycle when the user has just signed in.
func (m *Manager) NotifyAuthChanged() {
	if m.auth.IsSignedIn(context.Background()) {
		m.Trigger(TriggerAuth)
	}
}

func (m *Manager) scheduleDrain() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil || m.drainTimer != nil {
		return
	}
	m.drainTimer = time.AfterFunc(m.cfg.DrainDelay, func() {
		m.mu.Lock()
		m.drainTimer = nil
		m.mu.Unlock()
		m.Trigger(TriggerDrain)
	})
}

// RunCycle runs one cycle on the calling goroutine. It reports false, and
// does nothing, when another cycle is already running. Step failures are
// recorded in the result and never abort the cycle.
func (m *Manager) RunCycle(ctx context.Context, trigger Trigger) (CycleResult, bool) {
	if !m.running.CompareAndSwap(false, true) {
		logger.Log.Debug("Sync cycle already running, ignoring trigger", zap.String("trigger", string(trigger)))
		if trigger == TriggerDrain {
			m.deferDrain()
		}
		return CycleResult{}, false
	}
	defer m.release()

	res := CycleResult{ID: uuid.NewString(), Trigger: trigger, StartedAt: m.now()}
	history := &store.SyncHistory{ID: res.ID, StartedAt: res.StartedAt, Trigger: string(trigger), Status: store.HistoryRunning}
	if err := m.store.CreateSyncHistory(ctx, history); err != nil {
		logger.Log.Warn("Failed to record sync history", zap.Error(err))
		history = nil
	}

	m.runSteps(ctx, &res)

	res.CompletedAt = m.now()
	m.finish(ctx, &res, history)
	return res, true
}

// deferDrain hands a rejected drain to the running cycle, which
// reschedules it once it releases the guard. If that cycle has already
// released, the drain is rescheduled here.
func (m *Manager) deferDrain() {
	m.drainPending.Store(true)
	if !m.running.Load() && m.drainPending.Swap(false) {
		m.scheduleDrain()
	}
}

func (m *Manager) release() {
	m.running.Store(false)
	if m.drainPending.Swap(false) {
		m.scheduleDrain()
	}
}

func (m *Manager) runSteps(ctx context.Context, res *CycleResult) {
	if !m.auth.IsSignedIn(ctx) {
		res.skip(StepDrain, "signed out")
		logger.Log.Debug("Not signed in, skipping remote sync")
		return
	}

	m.drain(ctx, res)
	if res.Trigger == TriggerDrain {
		return
	}

	force := res.Trigger == TriggerManual || res.Trigger == TriggerAuth
	m.backfill(ctx, res, force)

	if m.pullPatients(ctx, res, force) {
		m.dedup(ctx, res)
	}

	rr, err := m.PullCalendar(ctx, force)
	switch {
	case errors.Is(err, errSkipped):
		res.skip(StepPullCalendar, err.Error())
	case err != nil:
		m.stepFailed(res, StepPullCalendar, err)
	default:
		res.Upserted += rr.Upserted
		res.Deleted += rr.Deleted
	}
}

// stepFailed records a step failure. Auth loss mid-cycle is not an error.
func (m *Manager) stepFailed(res *CycleResult, step string, err error) {
	if remote.IsAuthUnavailable(err) {
		res.skip(step, "auth unavailable")
		return
	}
	logger.Log.Error("Sync step failed", zap.String("step", step), zap.Error(err))
	res.fail(step, err)
	m.metrics.StepErrors.WithLabelValues(step).Inc()
}

func (m *Manager) drain(ctx context.Context, res *CycleResult) {
	items, err := m.queue.Ready(ctx, m.cfg.BatchSize)
	if err != nil {
		m.stepFailed(res, StepDrain, err)
		return
	}
	if len(items) == 0 {
		return
	}

	batch := m.worker.processBatch(ctx, items)
	res.Pushed += batch.Pushed
	res.Failed += batch.Failed
	if batch.AuthLost {
		res.skip(StepDrain, "auth unavailable")
		return
	}

	more, err := m.queue.Ready(ctx, 1)
	if err != nil {
		m.stepFailed(res, StepDrain, err)
		return
	}
	if len(more) > 0 {
		m.scheduleDrain()
	}
}

// claim reports whether the cooldown for key has elapsed and, if so,
// restarts it. force ignores the cooldown.
func (m *Manager) claim(key string, window time.Duration, force bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if last, ok := m.cooldowns[key]; ok && !force && now.Sub(last) < window {
		return false
	}
	m.cooldowns[key] = now
	return true
}

var errSkipped = errors.New("skipped")

func skipped(reason string) error {
	return fmt.Errorf("%w: %s", errSkipped, reason)
}

// IsSkipped reports whether err means a step did not run.
func IsSkipped(err error) bool { return errors.Is(err, errSkipped) }

// backfill pushes local records that never reached their remote system.
func (m *Manager) backfill(ctx context.Context, res *CycleResult, force bool) {
	var candidates []*model.QueueItem

	if m.remote.SpreadsheetID != "" && m.claim("backfill:"+m.remote.SpreadsheetID, m.cfg.BackfillCooldown, force) {
		items, err := m.patientBackfill(ctx)
		if err != nil {
			m.stepFailed(res, StepBackfill, err)
		}
		candidates = append(candidates, items...)
	}
	if m.remote.CalendarID != "" && m.claim("backfill:"+m.remote.CalendarID, m.cfg.BackfillCooldown, force) {
		items, err := m.calendarBackfill(ctx)
		if err != nil {
			m.stepFailed(res, StepBackfill, err)
		}
		candidates = append(candidates, items...)
	}
	if len(candidates) > maxBackfillPerCycle {
		candidates = candidates[:maxBackfillPerCycle]
	}

	for _, item := range candidates {
		item.IdempotencyKey = IdempotencyKey(item, m.queue.newToken)
		err := m.dispatcher.Dispatch(ctx, item)
		if err == nil {
			res.Backfilled++
			continue
		}
		if remote.IsAuthUnavailable(err) {
			res.skip(StepBackfill, "auth unavailable")
			return
		}
		logger.Log.Warn("Backfill failed, queueing for retry",
			zap.String("entity_kind", string(item.EntityKind)),
			zap.String("entity_id", item.Payload.EntityID()),
			zap.Error(err))
		if _, qerr := m.queue.Enqueue(ctx, item.Action, item.EntityKind, item.Payload); qerr != nil {
			m.stepFailed(res, StepBackfill, qerr)
		}
	}
}

func backfillItem(kind model.EntityKind, id string) *model.QueueItem {
	return &model.QueueItem{
		Action:     model.ActionCreate,
		EntityKind: kind,
		Payload:    model.Payload{model.PayloadEntityID: id},
		Status:     model.QueueStatusProcessing,
	}
}

// patientBackfill lists patients that only exist locally and have nothing
// queued.
func (m *Manager) patientBackfill(ctx context.Context) ([]*model.QueueItem, error) {
	pending, err := pendingEntityIDs(ctx, m.store, model.EntityPatient)
	if err != nil {
		return nil, err
	}
	patients, err := m.store.ListPatients(ctx)
	if err != nil {
		return nil, err
	}
	var items []*model.QueueItem
	for _, p := range patients {
		if _, ok := pending[p.ID]; ok || p.SyncStatus != model.SyncStatusLocal {
			continue
		}
		items = append(items, backfillItem(model.EntityPatient, p.ID))
	}
	return items, nil
}

// calendarBackfill lists unlinked appointments and day notes that are not
// synced and have nothing queued.
func (m *Manager) calendarBackfill(ctx context.Context) ([]*model.QueueItem, error) {
	pending, err := pendingEntityIDs(ctx, m.store, model.EntityAppointment, model.EntityCalendarLink)
	if err != nil {
		return nil, err
	}
	appts, err := m.store.ListAppointments(ctx, store.AppointmentFilter{Unlinked: true})
	if err != nil {
		return nil, err
	}
	var items []*model.QueueItem
	for _, a := range appts {
		if _, ok := pending[a.ID]; ok || a.SyncStatus == model.SyncStatusSynced {
			continue
		}
		items = append(items, backfillItem(model.EntityAppointment, a.ID))
	}

	notePending, err := pendingEntityIDs(ctx, m.store, model.EntityDayNote)
	if err != nil {
		return nil, err
	}
	notes, err := m.store.ListDayNotes(ctx, store.DayNoteFilter{Unlinked: true})
	if err != nil {
		return nil, err
	}
	for _, n := range notes {
		if _, ok := notePending[n.ID]; ok || n.SyncStatus == model.SyncStatusSynced {
			continue
		}
		items = append(items, backfillItem(model.EntityDayNote, n.ID))
	}
	return items, nil
}

// pullPatients reconciles the patient sheet and reports whether it did.
func (m *Manager) pullPatients(ctx context.Context, res *CycleResult, force bool) bool {
	owner := m.remote.SpreadsheetID
	if owner == "" {
		res.skip(StepPullPatients, "no spreadsheet configured")
		return false
	}
	if !m.claim("pull:"+owner, m.cfg.PullCooldown, force) {
		res.skip(StepPullPatients, "cooldown")
		return false
	}

	rows, err := m.sheets.ReadRange(ctx, owner, m.remote.PatientRange)
	if err != nil {
		m.stepFailed(res, StepPullPatients, err)
		return false
	}
	sheet, err := remote.NewPatientSheet(rows)
	if err != nil {
		m.stepFailed(res, StepPullPatients, err)
		return false
	}
	patients := sheet.Patients()
	records := make([]Record, len(patients))
	for i, p := range patients {
		records[i] = p
	}

	rr, err := m.reconciler.ReconcileSnapshot(ctx, owner, model.EntityPatient, records)
	if err != nil {
		m.stepFailed(res, StepPullPatients, err)
		return false
	}
	res.Upserted += rr.Upserted
	res.Deleted += rr.Deleted
	m.observeReconcile(model.EntityPatient, rr)
	return true
}

func (m *Manager) dedup(ctx context.Context, res *CycleResult) {
	merged, err := m.reconciler.DedupPatients(ctx)
	res.Merged += merged
	if err != nil {
		m.stepFailed(res, StepDedup, err)
	}
}

// DedupPatients runs the merge pass outside a cycle. It fails with
// ErrCycleRunning while a cycle is in flight.
func (m *Manager) DedupPatients(ctx context.Context) (int, error) {
	if !m.running.CompareAndSwap(false, true) {
		return 0, ErrCycleRunning
	}
	defer m.release()
	merged, err := m.reconciler.DedupPatients(ctx)
	m.refreshPending(ctx)
	return merged, err
}

// PullCalendar lists the lookback/lookahead window and reconciles it. It
// holds the calendar lock for the whole pull, so a concurrent pull is
// skipped rather than importing the same events twice.
func (m *Manager) PullCalendar(ctx context.Context, force bool) (ReconcileResult, error) {
	owner := m.remote.CalendarID
	if owner == "" {
		return ReconcileResult{}, skipped("no calendar configured")
	}
	if !m.calendarLock.TryAcquire(1) {
		return ReconcileResult{}, skipped("calendar pull in progress")
	}
	defer m.calendarLock.Release(1)

	if !m.claim("pull:"+owner, m.cfg.PullCooldown, force) {
		return ReconcileResult{}, skipped("cooldown")
	}

	now := m.now().In(m.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, m.loc)
	from := today.AddDate(0, 0, -m.cfg.LookbackDays)
	to := today.AddDate(0, 0, m.cfg.LookaheadDays)

	events, err := m.calendar.ListEvents(ctx, owner, from, to)
	if err != nil {
		return ReconcileResult{}, err
	}
	rr, err := m.reconciler.ReconcileCalendar(ctx, owner, events, from, to)
	if err != nil {
		return ReconcileResult{}, err
	}
	m.observeReconcile(model.EntityAppointment, rr)
	return rr, nil
}

func (m *Manager) observeReconcile(kind model.EntityKind, rr ReconcileResult) {
	m.metrics.ReconcileRecords.WithLabelValues(string(kind), "upserted").Add(float64(rr.Upserted))
	m.metrics.ReconcileRecords.WithLabelValues(string(kind), "deleted").Add(float64(rr.Deleted))
	m.metrics.ReconcileRecords.WithLabelValues(string(kind), "skipped").Add(float64(rr.Skipped))
}

func (m *Manager) refreshPending(ctx context.Context) int {
	pending, err := m.queue.PendingCount(ctx)
	if err != nil {
		logger.Log.Warn("Failed to count pending queue items", zap.Error(err))
		return 0
	}
	m.metrics.QueuePending.Set(float64(pending))
	return pending
}

func (m *Manager) finish(ctx context.Context, res *CycleResult, history *store.SyncHistory) {
	status := store.HistoryCompleted
	if len(res.Errors) > 0 {
		status = store.HistoryPartial
	}

	if history != nil {
		history.CompletedAt = sql.NullTime{Time: res.CompletedAt, Valid: true}
		history.ItemsPushed = res.Pushed
		history.ItemsFailed = res.Failed
		history.RecordsUpserted = res.Upserted
		history.RecordsDeleted = res.Deleted
		history.Status = status
		if msg := res.LastError(); msg != "" {
			history.ErrorMessage = sql.NullString{String: msg, Valid: true}
		}
		if err := m.store.UpdateSyncHistory(ctx, history); err != nil {
			logger.Log.Warn("Failed to update sync history", zap.Error(err))
		}
	}

	pending := m.refreshPending(ctx)
	m.metrics.ObserveCycle(string(res.Trigger), status, res.CompletedAt.Sub(res.StartedAt))

	m.mu.Lock()
	completed := res.CompletedAt
	m.lastCycleAt = &completed
	result := *res
	m.lastResult = &result
	if len(res.Errors) > 0 {
		m.lastError = res.LastError()
	} else {
		m.lastError = ""
		m.lastSuccessAt = &completed
	}
	observers := slices.Clone(m.observers)
	m.mu.Unlock()

	logger.Log.Info("Sync cycle complete",
		zap.String("trigger", string(res.Trigger)),
		zap.String("status", status),
		zap.Int("pushed", res.Pushed),
		zap.Int("failed", res.Failed),
		zap.Int("upserted", res.Upserted),
		zap.Int("deleted", res.Deleted),
		zap.Int("merged", res.Merged),
		zap.Int("backfilled", res.Backfilled),
		zap.Int("pending", pending),
		zap.Duration("duration", res.CompletedAt.Sub(res.StartedAt)))

	for _, fn := range observers {
		fn(result)
	}
}
