package usecase

import (
	"sync"

	"nimbus/internal/domain"
)

// ThreadLocker provides operation-level mutual exclusion per thread.
// Unlike a blocking lock, acquisition is all-or-nothing: a second
// submission for a busy thread is rejected immediately rather than
// queued behind the first.
type ThreadLocker struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewThreadLocker creates a thread locker.
func NewThreadLocker() *ThreadLocker {
	return &ThreadLocker{active: make(map[string]struct{})}
}

// TryLock acquires the lock for the given thread ID, returning an unlock
// function that MUST be called when the operation is complete. If the
// thread is already locked it returns domain.ErrConcurrentSubmission.
func (l *ThreadLocker) TryLock(threadID string) (unlock func(), err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.active[threadID]; busy {
		return nil, domain.NewDomainError("ThreadLocker.TryLock",
			domain.ErrConcurrentSubmission, threadID)
	}
	l.active[threadID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.active, threadID)
			l.mu.Unlock()
		})
	}, nil
}

// ActiveCount returns the number of threads currently locked.
// Intended for testing.
func (l *ThreadLocker) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}
