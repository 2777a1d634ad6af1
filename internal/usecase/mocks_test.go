// File: internal/usecase/mocks_test.go
package usecase

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"vidfab-pipeline/internal/domain"
	"vidfab-pipeline/internal/domain/model"
	"vidfab-pipeline/internal/domain/ports/repository"
	ports "vidfab-pipeline/internal/domain/ports/usecase"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// mockTxManager runs fn directly; the in-memory repos below are safe without
// real transactions because each guards its own maps with a mutex.
type mockTxManager struct {
	mu sync.Mutex
}

func (m *mockTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, repository.NoTX)
}

// -----------------------------
// Credit repository
// -----------------------------

type memCreditRepo struct {
	mu           sync.RWMutex
	accounts     map[string]*model.CreditAccount
	reservations map[string]*model.CreditReservation
	ledger       []*model.LedgerEntry
	saveErr      error // simulate write failures
}

func newMemCreditRepo() *memCreditRepo {
	return &memCreditRepo{
		accounts:     make(map[string]*model.CreditAccount),
		reservations: make(map[string]*model.CreditReservation),
	}
}

func (m *memCreditRepo) FindAccount(_ context.Context, _ repository.Tx, userID string) (*model.CreditAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *acct
	return &cp, nil
}

func (m *memCreditRepo) FindAccountForUpdate(_ context.Context, _ repository.Tx, userID string) (*model.CreditAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[userID]
	if !ok {
		acct = &model.CreditAccount{UserID: userID, UpdatedAt: time.Now()}
		m.accounts[userID] = acct
	}
	cp := *acct
	return &cp, nil
}

func (m *memCreditRepo) SaveAccount(_ context.Context, _ repository.Tx, acct *model.CreditAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	cp := *acct
	m.accounts[acct.UserID] = &cp
	return nil
}

func (m *memCreditRepo) SumOpenReservations(_ context.Context, _ repository.Tx, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum int64
	for _, r := range m.reservations {
		if r.UserID == userID && r.Status == model.ReservationStatusReserved {
			sum += r.Amount
		}
	}
	return sum, nil
}

func (m *memCreditRepo) SaveReservation(_ context.Context, _ repository.Tx, res *model.CreditReservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	cp := *res
	m.reservations[res.ID] = &cp
	return nil
}

func (m *memCreditRepo) FindReservationForUpdate(_ context.Context, _ repository.Tx, id string) (*model.CreditReservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reservations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memCreditRepo) FindReservationByReference(_ context.Context, _ repository.Tx, reference string) (*model.CreditReservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.reservations {
		if r.Reference == reference && r.Status == model.ReservationStatusReserved {
			cp := *r
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memCreditRepo) ListStaleReserved(_ context.Context, _ repository.Tx, cutoff time.Time, limit int) ([]*model.CreditReservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.CreditReservation
	for _, r := range m.reservations {
		if r.Status == model.ReservationStatusReserved && r.CreatedAt.Before(cutoff) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memCreditRepo) AppendLedger(_ context.Context, _ repository.Tx, entry *model.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.ledger = append(m.ledger, &cp)
	return nil
}

func (m *memCreditRepo) ListLedger(_ context.Context, _ repository.Tx, userID string, limit int) ([]*model.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.LedgerEntry
	for i := len(m.ledger) - 1; i >= 0; i-- {
		if m.ledger[i].UserID == userID {
			out = append(out, m.ledger[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// -----------------------------
// Project / shot / version repositories
// -----------------------------

type memProjectRepo struct {
	mu    sync.RWMutex
	store map[string]*model.Project
}

func newMemProjectRepo() *memProjectRepo {
	return &memProjectRepo{store: make(map[string]*model.Project)}
}

func (m *memProjectRepo) Save(_ context.Context, _ repository.Tx, p *model.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *memProjectRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memProjectRepo) ListByUser(_ context.Context, _ repository.Tx, userID string, limit int) ([]*model.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Project
	for _, p := range m.store {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memProjectRepo) ListStepProcessing(_ context.Context, _ repository.Tx, step int, limit int) ([]*model.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Project
	for _, p := range m.store {
		if st, err := p.StepStatus(step); err == nil && st == model.StepStatusProcessing {
			cp := *p
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memShotRepo struct {
	mu    sync.RWMutex
	store map[string]*model.Shot // key: projectID:shotNumber
}

func newMemShotRepo() *memShotRepo {
	return &memShotRepo{store: make(map[string]*model.Shot)}
}

func shotKey(projectID string, shotNumber int) string {
	return fmt.Sprintf("%s:%d", projectID, shotNumber)
}

func (m *memShotRepo) Save(_ context.Context, _ repository.Tx, s *model.Shot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.store[shotKey(s.ProjectID, s.ShotNumber)] = &cp
	return nil
}

func (m *memShotRepo) Find(_ context.Context, _ repository.Tx, projectID string, shotNumber int) (*model.Shot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.store[shotKey(projectID, shotNumber)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memShotRepo) ListByProject(_ context.Context, _ repository.Tx, projectID string) ([]*model.Shot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Shot
	for _, s := range m.store {
		if s.ProjectID == projectID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShotNumber < out[j].ShotNumber })
	return out, nil
}

func (m *memShotRepo) ListGenerating(_ context.Context, _ repository.Tx, projectID string) ([]*model.Shot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Shot
	for _, s := range m.store {
		if s.ProjectID == projectID && s.Status == model.ShotStatusGenerating && s.ProviderTaskID != "" {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShotNumber < out[j].ShotNumber })
	return out, nil
}

func (m *memShotRepo) ListPendingDownload(_ context.Context, _ repository.Tx, projectID string) ([]*model.Shot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Shot
	for _, s := range m.store {
		if s.ProjectID == projectID && s.Status == model.ShotStatusSuccess && s.StorageStatus == model.StorageStatusPending {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShotNumber < out[j].ShotNumber })
	return out, nil
}

func (m *memShotRepo) ListAllPendingDownload(_ context.Context, _ repository.Tx, limit int) ([]*model.Shot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Shot
	for _, s := range m.store {
		if s.Status == model.ShotStatusSuccess && s.StorageStatus == model.StorageStatusPending {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProjectID != out[j].ProjectID {
			return out[i].ProjectID < out[j].ProjectID
		}
		return out[i].ShotNumber < out[j].ShotNumber
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memShotRepo) CountByStatus(_ context.Context, _ repository.Tx, projectID string) (map[model.ShotStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[model.ShotStatus]int)
	for _, s := range m.store {
		if s.ProjectID == projectID {
			counts[s.Status]++
		}
	}
	return counts, nil
}

type memVersionRepo struct {
	mu    sync.RWMutex
	store []*model.StoryboardVersion
}

func newMemVersionRepo() *memVersionRepo { return &memVersionRepo{} }

func (m *memVersionRepo) Save(_ context.Context, _ repository.Tx, v *model.StoryboardVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *v
	m.store = append(m.store, &cp)
	return nil
}

func (m *memVersionRepo) MaxVersion(_ context.Context, _ repository.Tx, projectID string, shotNumber int) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	max := 0
	for _, v := range m.store {
		if v.ProjectID == projectID && v.ShotNumber == shotNumber && v.VersionNumber > max {
			max = v.VersionNumber
		}
	}
	return max, nil
}

func (m *memVersionRepo) ListHistory(_ context.Context, _ repository.Tx, projectID string, shotNumber int) ([]*model.StoryboardVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.StoryboardVersion
	for _, v := range m.store {
		if v.ProjectID == projectID && v.ShotNumber == shotNumber {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber > out[j].VersionNumber })
	return out, nil
}

func (m *memVersionRepo) FindByVersion(_ context.Context, _ repository.Tx, projectID string, shotNumber, versionNumber int) (*model.StoryboardVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.store {
		if v.ProjectID == projectID && v.ShotNumber == shotNumber && v.VersionNumber == versionNumber {
			cp := *v
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memVersionRepo) SetCurrent(_ context.Context, _ repository.Tx, projectID string, shotNumber, versionNumber int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for _, v := range m.store {
		if v.ProjectID == projectID && v.ShotNumber == shotNumber {
			v.IsCurrent = v.VersionNumber == versionNumber
			if v.IsCurrent {
				found = true
			}
		}
	}
	if !found {
		return domain.ErrNotFound
	}
	return nil
}

// -----------------------------
// Queue and progress mocks
// -----------------------------

type enqueuedJob struct {
	Type    model.JobType
	Payload model.JobPayload
	Opts    ports.EnqueueOptions
}

type mockQueue struct {
	mu         sync.Mutex
	enqueued   []enqueuedJob
	cancelled  []string
	enqueueErr error
}

func newMockQueue() *mockQueue { return &mockQueue{} }

func (m *mockQueue) Enqueue(_ context.Context, t model.JobType, payload model.JobPayload, opts ports.EnqueueOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enqueueErr != nil {
		return "", m.enqueueErr
	}
	m.enqueued = append(m.enqueued, enqueuedJob{Type: t, Payload: payload, Opts: opts})
	return uuid.NewString(), nil
}

func (m *mockQueue) Cancel(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, jobID)
	return nil
}

func (m *mockQueue) CancelOpenByProject(_ context.Context, t model.JobType, projectID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.enqueued {
		if j.Type == t && j.Payload.ProjectID == projectID {
			n++
		}
	}
	m.cancelled = append(m.cancelled, fmt.Sprintf("%s:%s", t, projectID))
	return n, nil
}

func (m *mockQueue) Stats(_ context.Context) (ports.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ports.QueueStats{Waiting: len(m.enqueued)}, nil
}

func (m *mockQueue) DeadLetters(_ context.Context, _ int) ([]*model.DeadLetter, error) {
	return nil, nil
}

func (m *mockQueue) count(t model.JobType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.enqueued {
		if j.Type == t {
			n++
		}
	}
	return n
}

type mockProgressStore struct {
	mu    sync.RWMutex
	store map[string]model.Progress
}

func newMockProgressStore() *mockProgressStore {
	return &mockProgressStore{store: make(map[string]model.Progress)}
}

func (m *mockProgressStore) SetProgress(_ context.Context, jobID string, p model.Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[jobID] = p
	return nil
}

func (m *mockProgressStore) GetProgress(_ context.Context, jobID string) (*model.Progress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.store[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}
