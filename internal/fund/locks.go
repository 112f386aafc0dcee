package fund

import (
	"slices"
	"sync"
)

// keyedLocks hands out one mutex per holding. Entries are never removed;
// the set is bounded by the number of holdings ever seen.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func holdingLockKey(userID, code string) string { return userID + "\x00" + code }

func (k *keyedLocks) get(userID, code string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	key := holdingLockKey(userID, code)
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	return l
}

// lockAll blocks until every listed holding of userID is locked. Codes are
// locked in sorted order so concurrent callers cannot deadlock.
func (k *keyedLocks) lockAll(userID string, codes []string) (unlock func()) {
	sorted := slices.Clone(codes)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	held := make([]*sync.Mutex, 0, len(sorted))
	for _, c := range sorted {
		l := k.get(userID, c)
		l.Lock()
		held = append(held, l)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
