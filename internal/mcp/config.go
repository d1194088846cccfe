package mcp

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/relaymesh/relay/internal/apperr"
)

// Kind tags which ServerConfig variant an entry is. Dispatch on Kind, not
// inheritance: each variant is connected through a distinct *Client
// construction in the Supervisor, but all four expose the same
// ListTools/CallTool contract once connected.
type Kind string

const (
	KindBuiltin    Kind = "builtin"     // in-process tool, no ServerProcess
	KindHTTPRemote Kind = "http_remote" // remote MCP server reached over HTTP, implicitly Running
	KindHTTPLocal  Kind = "http_local"  // locally spawned process that serves MCP over HTTP
	KindStdin      Kind = "stdin"       // locally spawned process speaking MCP over stdio
)

// defaultTimeoutSeconds is applied when a config entry omits timeout_seconds.
const defaultTimeoutSeconds = 30

// ServerConfig describes a single MCP server entry. All variants carry Name
// (unique within the registry), TimeoutSeconds, and AllowedTools (empty =
// all tools). Http.remote carries URL + optional bearer token; Http.local and
// Stdin carry Command + Args.
type ServerConfig struct {
	Name           string            `json:"-"` // derived from the map key, not a JSON field
	Kind           Kind              `json:"type"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	AllowedTools   []string          `json:"allowed_tools,omitempty"`
	URL            string            `json:"url,omitempty"`          // http_remote
	BearerToken    string            `json:"bearer_token,omitempty"` // http_remote
	Command        string            `json:"command,omitempty"`      // http_local | stdin
	Args           []string          `json:"args,omitempty"`         // http_local | stdin
	Env            []string          `json:"env,omitempty"`          // http_local | stdin
	Meta           map[string]string `json:"_meta,omitempty"`        // scan_result, scanned_at
}

// EffectiveTimeout returns TimeoutSeconds or the 30s default.
func (c ServerConfig) EffectiveTimeout() int {
	if c.TimeoutSeconds > 0 {
		return c.TimeoutSeconds
	}
	return defaultTimeoutSeconds
}

// configFile mirrors the top-level structure of mcp.json.
type configFile struct {
	MCPServers map[string]ServerConfig `json:"mcpServers"`
}

// LoadConfig reads and parses mcp.json from path. Name is populated from the
// map key, not from any JSON field.
func LoadConfig(path string) (map[string]ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.New(apperr.ConfigError, "mcp.LoadConfig", fmt.Errorf("read %q: %w", path, err))
	}

	var file configFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, apperr.New(apperr.ConfigError, "mcp.LoadConfig", fmt.Errorf("parse %q: %w", path, err))
	}
	if file.MCPServers == nil {
		return map[string]ServerConfig{}, nil
	}

	for key, cfg := range file.MCPServers {
		cfg.Name = key
		if cfg.Kind == "" {
			return nil, apperr.New(apperr.ConfigError, "mcp.LoadConfig",
				fmt.Errorf("server %q: missing required \"type\" field", key))
		}
		switch cfg.Kind {
		case KindBuiltin:
			// no further fields required
		case KindHTTPRemote:
			if cfg.URL == "" {
				return nil, apperr.New(apperr.ConfigError, "mcp.LoadConfig",
					fmt.Errorf("server %q: http_remote requires \"url\"", key))
			}
		case KindHTTPLocal, KindStdin:
			if cfg.Command == "" {
				return nil, apperr.New(apperr.ConfigError, "mcp.LoadConfig",
					fmt.Errorf("server %q: %s requires \"command\"", key, cfg.Kind))
			}
		default:
			return nil, apperr.New(apperr.ConfigError, "mcp.LoadConfig",
				fmt.Errorf("server %q: unknown type %q", key, cfg.Kind))
		}
		file.MCPServers[key] = cfg
	}
	return file.MCPServers, nil
}

// updateServerMeta merges key-value pairs into the _meta object of a named
// server entry in mcp.json, preserving all other existing fields and their
// original formatting. Best-effort: failures are logged by the caller but
// never interrupt a reload. Uses gjson/sjson instead of a full
// unmarshal-mutate-marshal round trip so untouched entries (including ones
// this process doesn't model, like manual operator comments-by-convention
// keys) survive byte-for-byte.
func updateServerMeta(configPath, serverName string, updates map[string]string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("mcp: updateServerMeta read %q: %w", configPath, err)
	}

	entryPath := fmt.Sprintf("mcpServers.%s", serverName)
	if !gjson.GetBytes(data, entryPath).Exists() {
		return nil
	}

	doc := data
	for k, v := range updates {
		metaPath := fmt.Sprintf("%s._meta.%s", entryPath, k)
		doc, err = sjson.SetBytes(doc, metaPath, v)
		if err != nil {
			return fmt.Errorf("mcp: updateServerMeta set %q: %w", metaPath, err)
		}
	}

	return os.WriteFile(configPath, doc, 0o644)
}
