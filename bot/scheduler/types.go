package scheduler

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/whiteout-project/warden/bot/observability"
	"github.com/whiteout-project/warden/bot/store"
)

// Priority bases per action kind. Lower value wins. The 100k gaps keep the
// kinds totally ordered; redeem adds the alliance rank so a more-important
// alliance's redeem strictly precedes a less-important one's.
const (
	PriorityAddPlayer   = 100_000
	PriorityRedeemBase  = 200_000
	PriorityRefresh     = 300_000
	PriorityAutoRefresh = 400_000

	maxAlliancePriority = 99_999
)

// PriorityFor computes a process priority from its action and, for redeem
// work, the alliance rank (1..99999).
func PriorityFor(action store.Action, allianceRank int) (int, error) {
	switch action {
	case store.ActionAddPlayer:
		return PriorityAddPlayer, nil
	case store.ActionRedeemGiftcode:
		if allianceRank < 1 || allianceRank > maxAlliancePriority {
			return 0, fmt.Errorf("alliance rank %d out of range 1..%d", allianceRank, maxAlliancePriority)
		}
		return PriorityRedeemBase + allianceRank, nil
	case store.ActionRefresh:
		return PriorityRefresh, nil
	case store.ActionAutoRefresh:
		return PriorityAutoRefresh, nil
	default:
		return 0, fmt.Errorf("unknown action %q", action)
	}
}

// Config tunes the scheduler loop and the shared API budget.
type Config struct {
	// PerCallDelay is the minimum spacing between consecutive game-API
	// calls across every handler. 2s keeps issuance near 30 req/min.
	PerCallDelay time.Duration

	// RateLimitDelay is the back-off after the API reports throttling.
	RateLimitDelay time.Duration

	// PreemptionQuantum bounds how long a backing-off handler sleeps
	// before re-checking preemption.
	PreemptionQuantum time.Duration

	// WakeInterval is the cadence of the resume-eligibility sweep.
	WakeInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		PerCallDelay:      2 * time.Second,
		RateLimitDelay:    60 * time.Second,
		PreemptionQuantum: 2 * time.Second,
		WakeInterval:      3 * time.Second,
	}
}

// Decision is a structured log entry for scheduler actions.
type Decision struct {
	Component string `json:"component"`
	Decision  string `json:"decision"` // ADMIT, PREEMPT, COMPLETE, FAIL, SKIP
	ProcessID int64  `json:"process_id"`
	Action    string `json:"action,omitempty"`
	Priority  int    `json:"priority,omitempty"`
	VictimID  int64  `json:"victim_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func logDecision(d Decision) {
	d.Component = "scheduler"
	bytes, _ := json.Marshal(d)
	log.Println(string(bytes))

	observability.SchedulerDecisions.WithLabelValues(d.Decision).Inc()
}
