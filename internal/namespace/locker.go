package namespace

import "sync"

// Locker is a set of mutexes keyed by string. Entries are reference
// counted and dropped when no goroutine holds or waits on them.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newLocker() *Locker {
	return &Locker{locks: make(map[string]*keyedLock)}
}

// Lock acquires the mutex for key and returns its unlock func.
func (l *Locker) Lock(key string) (unlock func()) {
	l.mu.Lock()
	k, ok := l.locks[key]
	if !ok {
		k = &keyedLock{}
		l.locks[key] = k
	}
	k.refs++
	l.mu.Unlock()

	k.mu.Lock()
	return func() {
		k.mu.Unlock()
		l.mu.Lock()
		k.refs--
		if k.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func (l *Locker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
