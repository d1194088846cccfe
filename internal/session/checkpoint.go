package session

import "github.com/relaymesh/relay/internal/tokenest"

// defaultCacheTokenThreshold is the spec's "cache_tokens_threshold (default
// ≈ 2k)" auto-checkpoint rule input.
const defaultCacheTokenThreshold = 2000

// defaultCacheMarkerBudget is the spec's "budget of at most 4 active
// markers" (property §8.4).
const defaultCacheMarkerBudget = 4

// CheckpointPlan communicates the provider-specific piece of the policy that
// lives outside the Message Log: whether the last tool definition shipped in
// the request should carry its own cache breakpoint.
type CheckpointPlan struct {
	MarkLastToolDef bool
}

// CacheCheckpointManager implements the Cache-Checkpoint Manager (spec
// §4.9). A no-op when the active provider does not support caching.
type CacheCheckpointManager struct {
	supportsCaching bool
	tokenThreshold  int
	markerBudget    int
	estimator       tokenest.Estimator
}

// NewCacheCheckpointManager builds a manager. tokenThreshold <= 0 uses the
// spec default (2000); markerBudget <= 0 uses the spec default (4).
func NewCacheCheckpointManager(supportsCaching bool, tokenThreshold, markerBudget int) *CacheCheckpointManager {
	if tokenThreshold <= 0 {
		tokenThreshold = defaultCacheTokenThreshold
	}
	if markerBudget <= 0 {
		markerBudget = defaultCacheMarkerBudget
	}
	return &CacheCheckpointManager{
		supportsCaching: supportsCaching,
		tokenThreshold:  tokenThreshold,
		markerBudget:    markerBudget,
		estimator:       tokenest.Default,
	}
}

// Prepare applies the full checkpoint policy to log ahead of the next
// provider call and reports the provider-specific tool-definition marker
// decision. A no-op (zero CheckpointPlan) if the provider doesn't cache.
func (m *CacheCheckpointManager) Prepare(log *MessageLog, toolsEnabled bool) CheckpointPlan {
	if !m.supportsCaching {
		return CheckpointPlan{}
	}
	if log.Len() == 0 {
		return CheckpointPlan{}
	}

	log.MarkCached(0) // rule 2: system message always cached

	if m.cumulativeUncachedTokens(log) > m.tokenThreshold {
		log.MarkCached(log.Len() - 1) // rule 4: auto-checkpoint the most recent message
	}

	log.EvictOldestCachedOverflow(m.markerBudget) // rule 3

	return CheckpointPlan{MarkLastToolDef: toolsEnabled}
}

func (m *CacheCheckpointManager) cumulativeUncachedTokens(log *MessageLog) int {
	total := 0
	for _, msg := range log.Snapshot() {
		if !msg.Cached {
			total += m.estimator.Estimate(msg.Content)
		}
	}
	return total
}
