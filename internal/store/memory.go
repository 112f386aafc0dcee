package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"FundTracker/internal/history"
	"FundTracker/internal/model"
)

type holdingKey struct {
	userID, code string
}

type historyKey struct {
	userID, code, date string
}

type memHolding struct {
	seq int64
	h   model.Holding
}

// MemoryStore keeps everything in maps behind one mutex. With a file path it
// reloads the snapshot on start and rewrites it after every write.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]model.User
	holdings map[holdingKey]memHolding
	history  map[historyKey]*history.Buffer
	seq      int64

	filePath string
	log      zerolog.Logger
}

// NewMemory creates a memory store, loading filePath when it exists.
func NewMemory(filePath string, log zerolog.Logger) (*MemoryStore, error) {
	m := &MemoryStore{
		users:    make(map[string]model.User),
		holdings: make(map[holdingKey]memHolding),
		history:  make(map[historyKey]*history.Buffer),
		filePath: filePath,
		log:      log,
	}
	if filePath == "" {
		return m, nil
	}
	snap, err := LoadSnapshot(filePath)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	m.restore(snap)
	log.Info().Str("path", filePath).Int("users", len(m.users)).Int("holdings", len(m.holdings)).Msg("memory store loaded")
	return m, nil
}

// persist writes the snapshot. Callers hold mu.
func (m *MemoryStore) persist() error {
	if m.filePath == "" {
		return nil
	}
	if err := SaveSnapshot(m.filePath, m.snapshot()); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// commit persists the maps after a mutation. When the snapshot cannot be
// written, undo puts the maps back so the failed write is not visible.
func (m *MemoryStore) commit(undo func()) error {
	if err := m.persist(); err != nil {
		undo()
		return err
	}
	return nil
}

// removed collects deleted entries so a failed commit can reinsert them.
type removed struct {
	users    map[string]model.User
	holdings map[holdingKey]memHolding
	history  map[historyKey]*history.Buffer
}

func newRemoved() *removed {
	return &removed{
		users:    make(map[string]model.User),
		holdings: make(map[holdingKey]memHolding),
		history:  make(map[historyKey]*history.Buffer),
	}
}

func (r *removed) restore(m *MemoryStore) {
	for k, v := range r.users {
		m.users[k] = v
	}
	for k, v := range r.holdings {
		m.holdings[k] = v
	}
	for k, v := range r.history {
		m.history[k] = v
	}
}

func (m *MemoryStore) CreateUser(_ context.Context, u model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return fmt.Errorf("user %s: %w", u.ID, ErrConflict)
	}
	m.users[u.ID] = u
	return m.commit(func() { delete(m.users, u.ID) })
}

func (m *MemoryStore) ListUsers(_ context.Context) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]model.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b model.User) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return users, nil
}

func (m *MemoryStore) GetUser(_ context.Context, id string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return u, nil
}

func (m *MemoryStore) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	gone := newRemoved()
	for k, buf := range m.history {
		if k.userID == id {
			gone.history[k] = buf
			delete(m.history, k)
		}
	}
	for k, h := range m.holdings {
		if k.userID == id {
			gone.holdings[k] = h
			delete(m.holdings, k)
		}
	}
	gone.users[id] = u
	delete(m.users, id)
	return m.commit(func() { gone.restore(m) })
}

func (m *MemoryStore) UpsertHolding(_ context.Context, h model.Holding) (model.Holding, error) {
	if err := h.Validate(); err != nil {
		return model.Holding{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[h.UserID]; !ok {
		return model.Holding{}, fmt.Errorf("user %s: %w", h.UserID, ErrNotFound)
	}
	key := holdingKey{h.UserID, h.Code}
	if prev, ok := m.holdings[key]; ok {
		next := prev
		next.h.InitialCost = h.InitialCost
		next.h.CurrentAmount = h.CurrentAmount
		next.h.LastSettlementDate = copyString(h.LastSettlementDate)
		m.holdings[key] = next
		if err := m.commit(func() { m.holdings[key] = prev }); err != nil {
			return model.Holding{}, err
		}
		return cloneHolding(next.h), nil
	}
	m.seq++
	h.LastSettlementDate = copyString(h.LastSettlementDate)
	m.holdings[key] = memHolding{seq: m.seq, h: h}
	if err := m.commit(func() { delete(m.holdings, key) }); err != nil {
		return model.Holding{}, err
	}
	return cloneHolding(h), nil
}

func (m *MemoryStore) GetHoldings(_ context.Context, userID string) ([]model.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedHoldings(func(k holdingKey) bool { return k.userID == userID }), nil
}

func (m *MemoryStore) ListAllHoldings(_ context.Context) ([]model.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedHoldings(func(holdingKey) bool { return true }), nil
}

func (m *MemoryStore) sortedHoldings(keep func(holdingKey) bool) []model.Holding {
	rows := make([]memHolding, 0, len(m.holdings))
	for k, v := range m.holdings {
		if keep(k) {
			rows = append(rows, v)
		}
	}
	slices.SortFunc(rows, func(a, b memHolding) int { return cmp.Compare(a.seq, b.seq) })
	out := make([]model.Holding, len(rows))
	for i, r := range rows {
		out[i] = cloneHolding(r.h)
	}
	return out
}

func (m *MemoryStore) GetHolding(_ context.Context, userID, code string) (model.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.holdings[holdingKey{userID, code}]
	if !ok {
		return model.Holding{}, fmt.Errorf("holding %s/%s: %w", userID, code, ErrNotFound)
	}
	return cloneHolding(cur.h), nil
}

func (m *MemoryStore) UpdateHolding(_ context.Context, userID, code string, p model.HoldingPatch) (model.Holding, error) {
	if err := p.Validate(); err != nil {
		return model.Holding{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := holdingKey{userID, code}
	prev, ok := m.holdings[key]
	if !ok {
		return model.Holding{}, fmt.Errorf("holding %s/%s: %w", userID, code, ErrNotFound)
	}
	next := prev
	next.h = p.Apply(cloneHolding(prev.h))
	m.holdings[key] = next
	if err := m.commit(func() { m.holdings[key] = prev }); err != nil {
		return model.Holding{}, err
	}
	return cloneHolding(next.h), nil
}

func (m *MemoryStore) SettleHolding(_ context.Context, userID, code, date string, amount decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := holdingKey{userID, code}
	prev, ok := m.holdings[key]
	if !ok || prev.h.SettledOn(date) {
		return false, nil
	}
	d := date
	next := prev
	next.h.CurrentAmount = amount
	next.h.LastSettlementDate = &d
	m.holdings[key] = next
	if err := m.commit(func() { m.holdings[key] = prev }); err != nil {
		return false, err
	}
	return true, nil
}

func (m *MemoryStore) DeleteHolding(_ context.Context, userID, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := holdingKey{userID, code}
	h, ok := m.holdings[key]
	if !ok {
		return fmt.Errorf("holding %s/%s: %w", userID, code, ErrNotFound)
	}
	gone := newRemoved()
	for k, buf := range m.history {
		if k.userID == userID && k.code == code {
			gone.history[k] = buf
			delete(m.history, k)
		}
	}
	gone.holdings[key] = h
	delete(m.holdings, key)
	return m.commit(func() { gone.restore(m) })
}

// AppendHistory works on a copy of the day's buffer and swaps it in, so a
// failed commit can put the old buffer back untouched.
func (m *MemoryStore) AppendHistory(_ context.Context, userID, code, date string, p model.HistoryPoint, limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.holdings[holdingKey{userID, code}]; !ok {
		return fmt.Errorf("holding %s/%s: %w", userID, code, ErrNotFound)
	}
	key := historyKey{userID, code, date}
	prev, had := m.history[key]
	var next *history.Buffer
	if had {
		next = history.NewBuffer(limit, prev.Points()...)
	} else {
		next = history.NewBuffer(limit)
	}
	next.Append(p)
	m.history[key] = next
	return m.commit(func() {
		if had {
			m.history[key] = prev
		} else {
			delete(m.history, key)
		}
	})
}

func (m *MemoryStore) GetHistory(_ context.Context, userID, date string) (map[string][]model.HistoryPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]model.HistoryPoint)
	for k, buf := range m.history {
		if k.userID == userID && k.date == date && buf.Len() > 0 {
			out[k.code] = buf.Points()
		}
	}
	return out, nil
}

func (m *MemoryStore) ClearHistory(_ context.Context, userID, date string) (int64, error) {
	return m.deleteHistory(func(k historyKey) bool {
		return k.userID == userID && (date == "" || k.date == date)
	})
}

func (m *MemoryStore) PurgeHistoryBefore(_ context.Context, date string) (int64, error) {
	return m.deleteHistory(func(k historyKey) bool { return k.date < date })
}

func (m *MemoryStore) deleteHistory(match func(historyKey) bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gone := newRemoved()
	var n int64
	for k, buf := range m.history {
		if match(k) {
			n += int64(buf.Len())
			gone.history[k] = buf
			delete(m.history, k)
		}
	}
	if err := m.commit(func() { gone.restore(m) }); err != nil {
		return 0, err
	}
	return n, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persist()
}

func cloneHolding(h model.Holding) model.Holding {
	h.LastSettlementDate = copyString(h.LastSettlementDate)
	return h
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	s := *p
	return &s
}
