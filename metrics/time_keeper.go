package metrics

import (
	"sync"
	"time"
)

type TimeKeeper struct {
	mu                      sync.Mutex
	previousVoteByValidator map[string]time.Time
}

func NewTimeKeeper() *TimeKeeper {
	return &TimeKeeper{
		previousVoteByValidator: make(map[string]time.Time),
	}
}

func (mt *TimeKeeper) RecordVoteTime(validator string) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	mt.previousVoteByValidator[validator] = time.Now()
}

// LastVotes returns a copy of the last vote time of every validator seen.
func (mt *TimeKeeper) LastVotes() map[string]time.Time {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	out := make(map[string]time.Time, len(mt.previousVoteByValidator))
	for k, v := range mt.previousVoteByValidator {
		out[k] = v
	}
	return out
}
