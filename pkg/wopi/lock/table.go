// Package lock implements the WOPI Lock Table (spec §3, §4.3): an
// in-memory, process-wide map from FileId to the lock currently held on
// it, with passive expiry and the exact state-machine transitions that
// Lock, Unlock, RefreshLock, UnlockAndRelock, and GetLock require.
//
// Every read-decide-write window for these operations executes under
// the Table's single mutex, so concurrent requests against the same
// FileId can never leave two callers believing they both hold the lock.
// PutFile, DeleteFile, and RenameFile check lock compatibility through
// Peek, which reads under the same mutex and releases it on return; the
// storage write that follows runs outside the mutex, so a lock taken
// between the check and the write does not stop that write.
package lock

import (
	"sync"
	"time"
)

// Expiry is the duration after which an unrefreshed lock is treated as
// absent (spec §3: "now_utc − createdAt ≥ 30 minutes").
const Expiry = 30 * time.Minute

// Info describes the lock currently held on a file.
type Info struct {
	Lock      string
	CreatedAt time.Time
}

// Table is the process-wide FileId -> Info map. The zero value is not
// usable; construct with New.
type Table struct {
	mu      sync.Mutex
	entries map[string]Info
}

// New returns an empty lock table.
func New() *Table {
	return &Table{entries: make(map[string]Info)}
}

// Result is the outcome of a state-machine transition: whether it
// succeeded, the lock now on file (for 409 responses' X-WOPI-Lock
// header), and an optional failure reason (X-WOPI-LockFailureReason).
type Result struct {
	OK          bool
	CurrentLock string
	Reason      string

	// OldLockEcho carries the new lock string for a successful
	// UnlockAndRelock, which the handler echoes back as X-WOPI-OldLock.
	OldLockEcho string
}

// expired reports whether info is older than Expiry as of now.
func expired(info Info, now time.Time) bool {
	return now.Sub(info.CreatedAt) >= Expiry
}

// tryGet returns the live entry for id, lazily evicting it first if it
// has expired. Must be called with mu held.
func (t *Table) tryGet(id string, now time.Time) (Info, bool) {
	info, ok := t.entries[id]
	if !ok {
		return Info{}, false
	}
	if expired(info, now) {
		delete(t.entries, id)
		return Info{}, false
	}
	return info, true
}

// Peek reports the current lock on id (after lazily reclaiming it if
// expired) without changing any state. Used by PutFile, DeleteFile, and
// RenameFile to check lock compatibility.
func (t *Table) Peek(id string, now time.Time) (currentLock string, locked bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.tryGet(id, now)
	if !ok {
		return "", false
	}
	return info.Lock, true
}

// Lock implements the Lock(N) transitions of the state machine.
func (t *Table) Lock(id, newLock string, now time.Time) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, locked := t.tryGet(id, now)
	switch {
	case !locked:
		t.entries[id] = Info{Lock: newLock, CreatedAt: now}
		return Result{OK: true}
	case info.Lock == newLock:
		t.entries[id] = Info{Lock: newLock, CreatedAt: now}
		return Result{OK: true}
	default:
		return Result{OK: false, CurrentLock: info.Lock}
	}
}

// Unlock implements the Unlock(N) transitions.
func (t *Table) Unlock(id, presented string, now time.Time) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, locked := t.tryGet(id, now)
	if !locked {
		return Result{OK: false, CurrentLock: "", Reason: "File not locked"}
	}
	if info.Lock != presented {
		return Result{OK: false, CurrentLock: info.Lock}
	}
	delete(t.entries, id)
	return Result{OK: true}
}

// RefreshLock implements the RefreshLock(N) transitions.
func (t *Table) RefreshLock(id, presented string, now time.Time) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, locked := t.tryGet(id, now)
	if !locked {
		return Result{OK: false, CurrentLock: "", Reason: "File not locked"}
	}
	if info.Lock != presented {
		return Result{OK: false, CurrentLock: info.Lock}
	}
	t.entries[id] = Info{Lock: presented, CreatedAt: now}
	return Result{OK: true}
}

// UnlockAndRelock implements the UnlockAndRelock(Old, New) transitions.
func (t *Table) UnlockAndRelock(id, oldLock, newLock string, now time.Time) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, locked := t.tryGet(id, now)
	if !locked {
		return Result{OK: false, CurrentLock: "", Reason: "File not locked"}
	}
	if info.Lock != oldLock {
		return Result{OK: false, CurrentLock: info.Lock}
	}
	t.entries[id] = Info{Lock: newLock, CreatedAt: now}
	return Result{OK: true, OldLockEcho: newLock}
}

// GetLock implements the GetLock transitions: it never fails, it just
// reports the current state (possibly demoting an expired lock first).
func (t *Table) GetLock(id string, now time.Time) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, locked := t.tryGet(id, now)
	if !locked {
		return Result{OK: true, CurrentLock: ""}
	}
	return Result{OK: true, CurrentLock: info.Lock}
}

// Remove unconditionally clears any lock on id, used by DeleteFile once
// the file itself is gone.
func (t *Table) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

// Len returns the number of live (non-expired) entries, used by the
// /metrics lock gauge.
func (t *Table) Len(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for id, info := range t.entries {
		if expired(info, now) {
			delete(t.entries, id)
			continue
		}
		n++
	}
	return n
}
