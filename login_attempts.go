package auth

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const attemptShardCount = 32

type attemptRecord struct {
	failures       int
	firstFailureAt time.Time
	lockedUntil    time.Time
	touchedAt      time.Time
}

type attemptShard struct {
	mu      sync.Mutex
	records map[string]*attemptRecord
}

// MemoryAttemptTracker is the in-process LoginAttemptTracker. Records
// are sharded by identifier so unrelated identifiers never contend on
// the same lock. Suitable for single-instance deployments; use
// RedisAttemptTracker when running more than one process.
type MemoryAttemptTracker struct {
	shards      [attemptShardCount]*attemptShard
	maxFailures int
	lockFor     time.Duration
	idleWindow  time.Duration
	clock       Clock
}

var _ LoginAttemptTracker = (*MemoryAttemptTracker)(nil)

// NewMemoryAttemptTracker builds a tracker from the lockout knobs in
// the config.
func NewMemoryAttemptTracker(cfg Config) *MemoryAttemptTracker {
	t := &MemoryAttemptTracker{
		maxFailures: 5,
		lockFor:     15 * time.Minute,
		idleWindow:  time.Hour,
		clock:       systemClock{},
	}

	if cfg != nil {
		if cfg.GetMaxLoginAttempts() > 0 {
			t.maxFailures = cfg.GetMaxLoginAttempts()
		}
		if cfg.GetLockoutDuration() > 0 {
			t.lockFor = cfg.GetLockoutDuration()
		}
		if cfg.GetAttemptWindow() > 0 {
			t.idleWindow = cfg.GetAttemptWindow()
		}
	}

	for i := range t.shards {
		t.shards[i] = &attemptShard{records: map[string]*attemptRecord{}}
	}

	return t
}

// WithClock overrides the time source.
func (t *MemoryAttemptTracker) WithClock(clock Clock) *MemoryAttemptTracker {
	t.clock = normalizeClock(clock)
	return t
}

func (t *MemoryAttemptTracker) shardFor(identifier string) *attemptShard {
	h := fnv.New32a()
	h.Write([]byte(identifier))
	return t.shards[h.Sum32()%attemptShardCount]
}

// IsLocked reports whether the identifier is inside an active lockout
// window. The lock expires by time alone, no explicit unlock exists.
func (t *MemoryAttemptTracker) IsLocked(_ context.Context, identifier string) (bool, error) {
	now := t.clock.Now()
	shard := t.shardFor(identifier)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec, ok := shard.records[identifier]
	if !ok {
		return false, nil
	}

	if t.evictable(rec, now) {
		delete(shard.records, identifier)
		return false, nil
	}

	return now.Before(rec.lockedUntil), nil
}

// LoginFailed increments the failure counter, creating the record if
// absent. Reaching the failure budget arms the lock.
func (t *MemoryAttemptTracker) LoginFailed(_ context.Context, identifier string) error {
	now := t.clock.Now()
	shard := t.shardFor(identifier)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec, ok := shard.records[identifier]
	if !ok || t.evictable(rec, now) {
		rec = &attemptRecord{firstFailureAt: now}
		shard.records[identifier] = rec
	}

	rec.failures++
	rec.touchedAt = now

	if rec.failures >= t.maxFailures && !now.Before(rec.lockedUntil) {
		rec.lockedUntil = now.Add(t.lockFor)
	}

	return nil
}

// LoginSucceeded drops the failure counter for the identifier. An
// active lock is left in place; lock takes precedence over credential
// correctness until it times out.
func (t *MemoryAttemptTracker) LoginSucceeded(_ context.Context, identifier string) error {
	now := t.clock.Now()
	shard := t.shardFor(identifier)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec, ok := shard.records[identifier]
	if !ok {
		return nil
	}

	if now.Before(rec.lockedUntil) {
		// keep the lock, clear the counter
		rec.failures = 0
		rec.firstFailureAt = time.Time{}
		rec.touchedAt = now
		return nil
	}

	delete(shard.records, identifier)
	return nil
}

// Purge evicts idle records across all shards and returns how many were
// removed. Memory bounding only; locks are respected.
func (t *MemoryAttemptTracker) Purge(_ context.Context) int {
	now := t.clock.Now()
	evicted := 0

	for _, shard := range t.shards {
		shard.mu.Lock()
		for id, rec := range shard.records {
			if t.evictable(rec, now) {
				delete(shard.records, id)
				evicted++
			}
		}
		shard.mu.Unlock()
	}

	return evicted
}

// evictable only once the record is idle past the window and no lock is
// pending, so eviction can never unlock early.
func (t *MemoryAttemptTracker) evictable(rec *attemptRecord, now time.Time) bool {
	if now.Before(rec.lockedUntil) {
		return false
	}
	return now.Sub(rec.touchedAt) >= t.idleWindow
}
