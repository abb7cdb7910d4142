package lockgw

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// Operation names a gateway call for failure injection.
type Operation string

const (
	OpLock     Operation = "lock"
	OpUnlock   Operation = "unlock"
	OpGenerate Operation = "generate"
	OpRevoke   Operation = "revoke"
)

// Simulated is an in-memory lock vendor for development and tests. Codes are
// valid for CodeTTL from the moment they are minted.
type Simulated struct {
	CodeTTL time.Duration

	mu       sync.Mutex
	locked   map[string]bool
	codes    map[string]map[string]bool
	failures map[Operation]error
	refuse   map[Operation]bool
	calls    map[Operation]int
	now      func() time.Time
}

func NewSimulated() *Simulated {
	return &Simulated{
		CodeTTL:  30 * 24 * time.Hour,
		locked:   make(map[string]bool),
		codes:    make(map[string]map[string]bool),
		failures: make(map[Operation]error),
		refuse:   make(map[Operation]bool),
		calls:    make(map[Operation]int),
		now:      time.Now,
	}
}

// SetClock replaces the clock used for minted code windows.
func (s *Simulated) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetFailure makes every call of op return err until cleared with nil.
func (s *Simulated) SetFailure(op Operation, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// SetRefuse makes lock or unlock report that the device did not actuate.
func (s *Simulated) SetRefuse(op Operation, refuse bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refuse[op] = refuse
}

// Calls returns how many times op was invoked, failures included.
func (s *Simulated) Calls(op Operation) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Locked reports the simulated bolt state of a device.
func (s *Simulated) Locked(lockID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked[lockID]
}

// CodeLive reports whether the vendor would still accept code on the device.
func (s *Simulated) CodeLive(lockID, code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[lockID][code]
}

func (s *Simulated) enter(op Operation) error {
	s.calls[op]++
	return s.failures[op]
}

func (s *Simulated) LockDevice(ctx context.Context, lockID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpLock); err != nil {
		return false, err
	}
	if s.refuse[OpLock] {
		return false, nil
	}
	s.locked[lockID] = true
	return true, nil
}

func (s *Simulated) UnlockDevice(ctx context.Context, lockID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpUnlock); err != nil {
		return false, err
	}
	if s.refuse[OpUnlock] {
		return false, nil
	}
	s.locked[lockID] = false
	return true, nil
}

func (s *Simulated) GenerateAccessCode(ctx context.Context, lockID string) (*Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpGenerate); err != nil {
		return nil, err
	}

	if s.codes[lockID] == nil {
		s.codes[lockID] = make(map[string]bool)
	}
	// a code is never handed out twice on the same device
	var code string
	for code == "" || s.codes[lockID][code] || s.revoked(lockID, code) {
		n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
		if err != nil {
			return nil, err
		}
		code = fmt.Sprintf("%06d", n.Int64())
	}
	s.codes[lockID][code] = true

	now := s.now().UTC()
	return &Code{Code: code, ValidFrom: now, ValidUntil: now.Add(s.CodeTTL)}, nil
}

func (s *Simulated) RevokeAccessCode(ctx context.Context, lockID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpRevoke); err != nil {
		return err
	}
	if _, ok := s.codes[lockID][code]; ok {
		s.codes[lockID][code] = false
	}
	return nil
}

func (s *Simulated) revoked(lockID, code string) bool {
	live, seen := s.codes[lockID][code]
	return seen && !live
}
