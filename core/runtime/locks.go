package runtime

import (
	"context"
	"sync"

	"tipjar/crypto"
)

// AccountLocks grants whole-account read/write locks. A transaction takes all
// of its locks at once or none of them, so two transactions can never hold
// one lock each while waiting for the other.
type AccountLocks struct {
	mu      sync.Mutex
	writers map[crypto.Address]struct{}
	readers map[crypto.Address]int
	changed chan struct{}
}

func NewAccountLocks() *AccountLocks {
	return &AccountLocks{
		writers: make(map[crypto.Address]struct{}),
		readers: make(map[crypto.Address]int),
		changed: make(chan struct{}),
	}
}

// Acquire blocks until every writable address can be locked exclusively and
// every readonly address can be locked shared, or ctx is done. Addresses in
// both lists are treated as writable.
func (l *AccountLocks) Acquire(ctx context.Context, writable, readonly []crypto.Address) (func(), error) {
	writeSet := make(map[crypto.Address]struct{}, len(writable))
	for _, addr := range writable {
		writeSet[addr] = struct{}{}
	}
	readSet := make(map[crypto.Address]struct{}, len(readonly))
	for _, addr := range readonly {
		if _, ok := writeSet[addr]; !ok {
			readSet[addr] = struct{}{}
		}
	}

	for {
		l.mu.Lock()
		if l.availableLocked(writeSet, readSet) {
			for addr := range writeSet {
				l.writers[addr] = struct{}{}
			}
			for addr := range readSet {
				l.readers[addr]++
			}
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() { l.release(writeSet, readSet) })
			}, nil
		}
		wait := l.changed
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

func (l *AccountLocks) availableLocked(writeSet, readSet map[crypto.Address]struct{}) bool {
	for addr := range writeSet {
		if _, held := l.writers[addr]; held {
			return false
		}
		if l.readers[addr] > 0 {
			return false
		}
	}
	for addr := range readSet {
		if _, held := l.writers[addr]; held {
			return false
		}
	}
	return true
}

func (l *AccountLocks) release(writeSet, readSet map[crypto.Address]struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for addr := range writeSet {
		delete(l.writers, addr)
	}
	for addr := range readSet {
		if l.readers[addr] <= 1 {
			delete(l.readers, addr)
			continue
		}
		l.readers[addr]--
	}
	close(l.changed)
	l.changed = make(chan struct{})
}

// Held reports the number of write-locked and read-locked accounts.
func (l *AccountLocks) Held() (writers, readers int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.writers), len(l.readers)
}
