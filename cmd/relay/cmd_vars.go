package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func envPairs() []string { return os.Environ() }

// relevantEnvPrefixes lists the prefixes `vars` reports on; everything else
// in the process environment is irrelevant to relay and would just add
// noise (and risk leaking unrelated secrets into terminal scrollback).
var relevantEnvPrefixes = []string{
	"LLM_", "ANTHROPIC_", "WORKSPACE_DIR", "MCP_CONFIG", "PROMPTS_DIR",
	"USER_RULES_PATH", "SOUL_PATH", "SESSION_TTL_MINUTES", "TOOL_",
	"MCP_RESPONSE_WARNING_THRESHOLD", "MAX_REQUEST_TOKENS_THRESHOLD",
	"CACHE_TOKENS_THRESHOLD", "CACHE_BREAKPOINT_BUDGET", "BRAVE_API_KEY",
}

// buildVarsCmd implements `vars` (spec §6 "peripheral"): lists the
// environment variables relay actually reads, redacting anything whose name
// ends in _API_KEY or _KEY since "API keys are NEVER read from the config
// file" implies they shouldn't be echoed back either (spec §6).
func buildVarsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vars",
		Short: "List the environment variables relay reads, with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVars(cmd)
		},
	}
}

func runVars(cmd *cobra.Command) error {
	env := envPairs()
	sort.Strings(env)
	out := cmd.OutOrStdout()
	for _, kv := range env {
		parts := strings.SplitN(kv, "=", 2)
		key := parts[0]
		if !isRelevantEnvKey(key) {
			continue
		}
		value := ""
		if len(parts) == 2 {
			value = parts[1]
		}
		if isSecretEnvKey(key) {
			value = redact(value)
		}
		fmt.Fprintf(out, "%s=%s\n", key, value)
	}
	return nil
}

func isRelevantEnvKey(key string) bool {
	for _, prefix := range relevantEnvPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

func isSecretEnvKey(key string) bool {
	return strings.HasSuffix(key, "_API_KEY") || strings.HasSuffix(key, "_KEY")
}

func redact(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return "****"
	}
	return value[:2] + strings.Repeat("*", len(value)-4) + value[len(value)-2:]
}
