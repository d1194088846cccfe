package config

import (
	"os"
	"strconv"
)

// EngineConfig holds the tunables for the MCP federation core and session
// engine that spec.md pins as defaults but leaves env-overridable, mirroring
// how pkg/config's thresholds are loaded from the process environment.
type EngineConfig struct {
	// MCPResponseWarningThreshold is the token-estimate above which the
	// Large-Response Gate prompts before letting a tool result back into the
	// Message Log (spec §4.7).
	MCPResponseWarningThreshold int

	// MaxRequestTokensThreshold bounds the Context Truncator's input budget
	// (spec §4.10).
	MaxRequestTokensThreshold int

	// CacheTokensThreshold is the Cache-Checkpoint Manager's auto-checkpoint
	// trigger (spec §4.9 "cache_tokens_threshold, default ~2k").
	CacheTokensThreshold int

	// CacheBreakpointBudget caps the number of concurrently active cache
	// markers (spec §8 property 4: "budget of at most 4 active markers").
	CacheBreakpointBudget int
}

// NewEngineConfigFromEnv loads EngineConfig from the process environment,
// falling back to the spec defaults for any unset or unparsable value.
func NewEngineConfigFromEnv() *EngineConfig {
	return &EngineConfig{
		MCPResponseWarningThreshold: getEnvIntOrDefault("MCP_RESPONSE_WARNING_THRESHOLD", 10000),
		MaxRequestTokensThreshold:   getEnvIntOrDefault("MAX_REQUEST_TOKENS_THRESHOLD", 100000),
		CacheTokensThreshold:        getEnvIntOrDefault("CACHE_TOKENS_THRESHOLD", 2000),
		CacheBreakpointBudget:       getEnvIntOrDefault("CACHE_BREAKPOINT_BUDGET", 4),
	}
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}
