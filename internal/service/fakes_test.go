package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/fluster/fluster/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memDB is the shared backing state for the in-memory store fakes. The fake
// unit of work snapshots and restores it so rollback semantics match the real
// transactional stores.
type memDB struct {
	pools     map[string]domain.Pool
	accounts  map[string]domain.VaultAccount
	positions map[string]domain.BettingPosition // keyed poolID + "/" + owner
	triggers  map[string]domain.ScheduledTrigger
	audit     []string
}

func newMemDB() *memDB {
	return &memDB{
		pools:     make(map[string]domain.Pool),
		accounts:  make(map[string]domain.VaultAccount),
		positions: make(map[string]domain.BettingPosition),
		triggers:  make(map[string]domain.ScheduledTrigger),
	}
}

func (db *memDB) snapshot() *memDB {
	cp := newMemDB()
	for k, v := range db.pools {
		cp.pools[k] = v
	}
	for k, v := range db.accounts {
		cp.accounts[k] = v
	}
	for k, v := range db.positions {
		cp.positions[k] = v
	}
	for k, v := range db.triggers {
		cp.triggers[k] = v
	}
	cp.audit = append([]string(nil), db.audit...)
	return cp
}

func (db *memDB) restore(snap *memDB) {
	db.pools = snap.pools
	db.accounts = snap.accounts
	db.positions = snap.positions
	db.triggers = snap.triggers
	db.audit = snap.audit
}

// memUoW runs fn against the shared state and rolls it back when fn fails.
type memUoW struct{ db *memDB }

func (u *memUoW) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := u.db.snapshot()
	if err := fn(ctx); err != nil {
		u.db.restore(snap)
		return err
	}
	return nil
}

type poolStore struct{ db *memDB }

func (s *poolStore) Create(_ context.Context, p domain.Pool) error {
	if _, ok := s.db.pools[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.db.pools[p.ID] = p
	return nil
}

func (s *poolStore) Update(_ context.Context, p domain.Pool) error {
	if _, ok := s.db.pools[p.ID]; !ok {
		return domain.ErrNotFound
	}
	s.db.pools[p.ID] = p
	return nil
}

func (s *poolStore) Get(_ context.Context, id string) (domain.Pool, error) {
	p, ok := s.db.pools[id]
	if !ok {
		return domain.Pool{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *poolStore) List(_ context.Context, _ domain.ListOpts) ([]domain.Pool, error) {
	out := make([]domain.Pool, 0, len(s.db.pools))
	for _, p := range s.db.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type positionStore struct{ db *memDB }

func (s *positionStore) Upsert(_ context.Context, pos domain.BettingPosition) error {
	s.db.positions[pos.PoolID+"/"+pos.Owner] = pos
	return nil
}

func (s *positionStore) Get(_ context.Context, poolID, owner string) (domain.BettingPosition, error) {
	pos, ok := s.db.positions[poolID+"/"+owner]
	if !ok {
		return domain.BettingPosition{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *positionStore) GetByID(_ context.Context, id string) (domain.BettingPosition, error) {
	for _, pos := range s.db.positions {
		if pos.ID == id {
			return pos, nil
		}
	}
	return domain.BettingPosition{}, domain.ErrNotFound
}

func (s *positionStore) ListOpen(_ context.Context, owner string) ([]domain.BettingPosition, error) {
	var out []domain.BettingPosition
	for _, pos := range s.db.positions {
		if pos.Owner == owner && pos.Status == domain.PositionStatusOpen {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (s *positionStore) CountOpenByOwner(ctx context.Context, owner string) (int64, error) {
	open, _ := s.ListOpen(ctx, owner)
	return int64(len(open)), nil
}

type accountStore struct{ db *memDB }

func (s *accountStore) Create(_ context.Context, acct domain.VaultAccount) error {
	if _, ok := s.db.accounts[acct.Address]; ok {
		return domain.ErrAlreadyExists
	}
	s.db.accounts[acct.Address] = acct
	return nil
}

func (s *accountStore) Get(_ context.Context, address string) (domain.VaultAccount, error) {
	acct, ok := s.db.accounts[address]
	if !ok {
		return domain.VaultAccount{}, domain.ErrNotFound
	}
	return acct, nil
}

func (s *accountStore) GetByOwner(_ context.Context, owner, asset string) (domain.VaultAccount, error) {
	for _, acct := range s.db.accounts {
		if acct.Owner == owner && acct.Asset == asset {
			return acct, nil
		}
	}
	return domain.VaultAccount{}, domain.ErrNotFound
}

func (s *accountStore) Credit(_ context.Context, address string, amount uint64) error {
	acct, ok := s.db.accounts[address]
	if !ok {
		return domain.ErrNotFound
	}
	acct.Balance += amount
	acct.UpdatedAt = time.Now().UTC()
	s.db.accounts[address] = acct
	return nil
}

func (s *accountStore) Debit(_ context.Context, address string, amount uint64) error {
	acct, ok := s.db.accounts[address]
	if !ok {
		return domain.ErrNotFound
	}
	if acct.Balance < amount {
		return domain.ErrInsufficientFunds
	}
	acct.Balance -= amount
	acct.UpdatedAt = time.Now().UTC()
	s.db.accounts[address] = acct
	return nil
}

func (s *accountStore) Delete(_ context.Context, address string) error {
	if _, ok := s.db.accounts[address]; !ok {
		return domain.ErrNotFound
	}
	delete(s.db.accounts, address)
	return nil
}

func (s *accountStore) ListByOwner(_ context.Context, owner string) ([]domain.VaultAccount, error) {
	var out []domain.VaultAccount
	for _, acct := range s.db.accounts {
		if acct.Owner == owner {
			out = append(out, acct)
		}
	}
	return out, nil
}

type triggerStore struct{ db *memDB }

func (s *triggerStore) Create(_ context.Context, t domain.ScheduledTrigger) error {
	if _, ok := s.db.triggers[t.ThreadID]; ok {
		return domain.ErrDuplicateSchedule
	}
	s.db.triggers[t.ThreadID] = t
	return nil
}

func (s *triggerStore) Get(_ context.Context, threadID string) (domain.ScheduledTrigger, error) {
	t, ok := s.db.triggers[threadID]
	if !ok {
		return domain.ScheduledTrigger{}, domain.ErrNotFound
	}
	return t, nil
}

func (s *triggerStore) ListDue(_ context.Context, now time.Time, limit int) ([]domain.ScheduledTrigger, error) {
	var out []domain.ScheduledTrigger
	for _, t := range s.db.triggers {
		if t.Status == domain.TriggerStatusPending && !t.TriggerAt.After(now) {
			out = append(out, t)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *triggerStore) MarkFired(_ context.Context, threadID string, firedAt time.Time) error {
	t, ok := s.db.triggers[threadID]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status = domain.TriggerStatusFired
	t.FiredAt = &firedAt
	s.db.triggers[threadID] = t
	return nil
}

func (s *triggerStore) ListFiredBefore(_ context.Context, before time.Time) ([]domain.ScheduledTrigger, error) {
	var out []domain.ScheduledTrigger
	for _, t := range s.db.triggers {
		if t.Status == domain.TriggerStatusFired && t.FiredAt != nil && t.FiredAt.Before(before) {
			out = append(out, t)
		}
	}
	return out, nil
}

type auditStore struct{ db *memDB }

func (s *auditStore) Log(_ context.Context, event string, _ map[string]any) error {
	s.db.audit = append(s.db.audit, event)
	return nil
}

func (s *auditStore) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (s *auditStore) ListBefore(_ context.Context, _ time.Time) ([]domain.AuditEntry, error) {
	return nil, nil
}

// memBus records published payloads so tests can assert on emitted events.
type memBus struct {
	published map[string][][]byte
	streamed  map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{
		published: make(map[string][][]byte),
		streamed:  make(map[string][][]byte),
	}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.streamed[stream] = append(b.streamed[stream], payload)
	return nil
}

func (b *memBus) StreamRead(_ context.Context, _ string, _ string, _ int) ([]domain.StreamMessage, error) {
	return nil, nil
}

// memLimiter is a RateLimiter with a fixed answer.
type memLimiter struct {
	allowed bool
	err     error
}

func (l *memLimiter) Allow(_ context.Context, _ string, _ int, _ time.Duration) (bool, error) {
	return l.allowed, l.err
}
