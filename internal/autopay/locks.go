package autopay

import "sync"

// loanLocks hands out one mutex per loan id. Entries are dropped once no
// goroutine holds or waits on them.
type loanLocks struct {
	mu    sync.Mutex
	locks map[int64]*loanLock
}

type loanLock struct {
	mu   sync.Mutex
	refs int
}

func newLoanLocks() *loanLocks {
	return &loanLocks{locks: make(map[int64]*loanLock)}
}

func (l *loanLocks) lock(loanID int64) (unlock func()) {
	l.mu.Lock()
	ll, ok := l.locks[loanID]
	if !ok {
		ll = &loanLock{}
		l.locks[loanID] = ll
	}
	ll.refs++
	l.mu.Unlock()

	ll.mu.Lock()
	return func() {
		ll.mu.Unlock()
		l.mu.Lock()
		ll.refs--
		if ll.refs == 0 {
			delete(l.locks, loanID)
		}
		l.mu.Unlock()
	}
}
