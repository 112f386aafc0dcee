package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"FundTracker/internal/history"
	"FundTracker/internal/model"
)

// Snapshot is the on-disk JSON form of a MemoryStore.
type Snapshot struct {
	Users     []model.User      `json:"users"`
	Holdings  []model.Holding   `json:"holdings"`
	History   []SnapshotHistory `json:"history"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// SnapshotHistory holds the points of one holding on one date.
type SnapshotHistory struct {
	UserID string               `json:"userId"`
	Code   string               `json:"code"`
	Date   string               `json:"date"`
	Points []model.HistoryPoint `json:"points"`
}

// LoadSnapshot reads a snapshot from a JSON file. Returns an empty snapshot if the file doesn't exist.
func LoadSnapshot(filePath string) (*Snapshot, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Snapshot{}, nil
		}
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// SaveSnapshot writes the snapshot through a temp file and a rename, so a
// crash never leaves a half-written file behind.
func SaveSnapshot(filePath string, snap *Snapshot) error {
	snap.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filePath)
}

// snapshot captures the store. Callers hold mu.
func (m *MemoryStore) snapshot() *Snapshot {
	snap := &Snapshot{}
	for _, u := range m.users {
		snap.Users = append(snap.Users, u)
	}
	slices.SortFunc(snap.Users, func(a, b model.User) int { return strings.Compare(a.ID, b.ID) })
	snap.Holdings = m.sortedHoldings(func(holdingKey) bool { return true })
	for k, buf := range m.history {
		snap.History = append(snap.History, SnapshotHistory{UserID: k.userID, Code: k.code, Date: k.date, Points: buf.Points()})
	}
	slices.SortFunc(snap.History, func(a, b SnapshotHistory) int {
		return strings.Compare(a.UserID+"/"+a.Code+"/"+a.Date, b.UserID+"/"+b.Code+"/"+b.Date)
	})
	return snap
}

// restore loads snap into an empty store. Buffers get the default limit until
// the next append brings the configured one.
func (m *MemoryStore) restore(snap *Snapshot) {
	for _, u := range snap.Users {
		m.users[u.ID] = u
	}
	for _, h := range snap.Holdings {
		m.seq++
		m.holdings[holdingKey{h.UserID, h.Code}] = memHolding{seq: m.seq, h: h}
	}
	for _, rec := range snap.History {
		m.history[historyKey{rec.UserID, rec.Code, rec.Date}] = history.NewBuffer(history.DefaultLimit, rec.Points...)
	}
}
