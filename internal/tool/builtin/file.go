package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/relaymesh/relay/internal/tool"
)

const (
	maxFileSize    = 1 << 20 // 1MB read limit
	maxWriteSize   = 1 << 20 // 1MB — reject oversized content before touching the filesystem
	maxListItems   = 100
	maxFindResults = 50
)

// ── file_read ──

type FileReadTool struct {
	workspaceDir string
}

func NewFileReadTool(workspaceDir string) *FileReadTool {
	return &FileReadTool{workspaceDir: workspaceDir}
}

func (t *FileReadTool) Name() string        { return "file_read" }
func (t *FileReadTool) Description() string { return "Read the contents of a file" }

func (t *FileReadTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "path", Type: "string", Description: "file path", Required: true},
	)
}

func (t *FileReadTool) Init(_ context.Context) error { return nil }
func (t *FileReadTool) Close() error                 { return nil }

type filePathArgs struct {
	Path string `json:"path"`
}

func (t *FileReadTool) Execute(_ context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a filePathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("failed to parse arguments: %v", err)}, nil
	}

	path, err := safeResolvePath(a.Path, t.workspaceDir)
	if err != nil {
		return tool.ToolResult{Error: err.Error()}, nil
	}

	// Open before stat: eliminates the TOCTOU race where the file could be
	// replaced between a separate os.Stat and os.ReadFile call.
	f, err := os.Open(path)
	if err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("file does not exist: %s — check the path, or supply a full absolute path", path)}, nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("failed to stat file: %v", err)}, nil
	}
	if info.IsDir() {
		return tool.ToolResult{Error: "path is a directory, use file_list instead"}, nil
	}
	if info.Size() > maxFileSize {
		return tool.ToolResult{Error: fmt.Sprintf("file too large (%d bytes), max is %d bytes", info.Size(), maxFileSize)}, nil
	}

	data, err := io.ReadAll(io.LimitReader(f, maxFileSize))
	if err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("read failed: %v", err)}, nil
	}

	return tool.ToolResult{Output: string(data)}, nil
}

// ── file_write ──

type FileWriteTool struct {
	workspaceDir string
}

func NewFileWriteTool(workspaceDir string) *FileWriteTool {
	return &FileWriteTool{workspaceDir: workspaceDir}
}

func (t *FileWriteTool) Name() string        { return "file_write" }
func (t *FileWriteTool) Description() string { return "Write content to a file (create or overwrite)" }

func (t *FileWriteTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "path", Type: "string", Description: "file path", Required: true},
		tool.SchemaParam{Name: "content", Type: "string", Description: "content to write", Required: true},
	)
}

func (t *FileWriteTool) Init(_ context.Context) error { return nil }
func (t *FileWriteTool) Close() error                 { return nil }

type fileWriteArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (t *FileWriteTool) Execute(_ context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a fileWriteArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("failed to parse arguments: %v", err)}, nil
	}

	// Reject oversized content before any filesystem operation, to avoid disk
	// exhaustion from a malicious or runaway LLM output.
	if len(a.Content) > maxWriteSize {
		return tool.ToolResult{Error: fmt.Sprintf("content too large (%d bytes), max is %d bytes", len(a.Content), maxWriteSize)}, nil
	}

	path, err := safeResolvePath(a.Path, t.workspaceDir)
	if err != nil {
		return tool.ToolResult{Error: err.Error()}, nil
	}

	if msg := checkProtectedFile(path, t.workspaceDir); msg != "" {
		return tool.ToolResult{Error: msg}, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("failed to create directory: %v", err)}, nil
	}

	if err := os.WriteFile(path, []byte(a.Content), 0644); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("write failed: %v", err)}, nil
	}

	return tool.ToolResult{Output: fmt.Sprintf("wrote %s (%d bytes)", path, len(a.Content))}, nil
}

// ── file_list ──

type FileListTool struct {
	workspaceDir string
}

func NewFileListTool(workspaceDir string) *FileListTool {
	return &FileListTool{workspaceDir: workspaceDir}
}

func (t *FileListTool) Name() string        { return "file_list" }
func (t *FileListTool) Description() string { return "List files and subdirectories under a directory" }

func (t *FileListTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "path", Type: "string", Description: "directory path", Required: true},
	)
}

func (t *FileListTool) Init(_ context.Context) error { return nil }
func (t *FileListTool) Close() error                 { return nil }

func (t *FileListTool) Execute(_ context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a filePathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("failed to parse arguments: %v", err)}, nil
	}

	path, err := safeResolvePath(a.Path, t.workspaceDir)
	if err != nil {
		return tool.ToolResult{Error: err.Error()}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("directory does not exist: %s — check the path, use \".\" for the workspace root, or supply a full absolute path", path)}, nil
	}

	var sb strings.Builder
	count := 0
	for _, entry := range entries {
		if count >= maxListItems {
			sb.WriteString(fmt.Sprintf("... (%d entries total, showing the first %d)\n", len(entries), maxListItems))
			break
		}

		info, _ := entry.Info()
		typeStr := "file"
		sizeStr := ""
		if entry.IsDir() {
			typeStr = "dir"
		} else if info != nil {
			sizeStr = fmt.Sprintf(" (%d bytes)", info.Size())
		} else {
			sizeStr = " (size unknown)" // broken symlink or race
		}

		sb.WriteString(fmt.Sprintf("[%s] %s%s\n", typeStr, entry.Name(), sizeStr))
		count++
	}

	if count == 0 {
		return tool.ToolResult{Output: "(empty directory)"}, nil
	}
	return tool.ToolResult{Output: sb.String()}, nil
}

// ── file_find ──

type FileFindTool struct {
	workspaceDir string
}

func NewFileFindTool(workspaceDir string) *FileFindTool {
	return &FileFindTool{workspaceDir: workspaceDir}
}

func (t *FileFindTool) Name() string { return "find" }
func (t *FileFindTool) Description() string {
	return "Recursively search the workspace for files and directories by name or glob (e.g. '*.go')"
}

func (t *FileFindTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "pattern", Type: "string", Description: "search term: part of a file/dir name, or a glob like '*.go'", Required: true},
	)
}

func (t *FileFindTool) Init(_ context.Context) error { return nil }
func (t *FileFindTool) Close() error                 { return nil }

// skipDirs are directory names excluded from recursive search.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, ".idea": true, ".vscode": true,
	"vendor": true, "__pycache__": true, ".cache": true,
}

func (t *FileFindTool) Execute(ctx context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a struct {
		Pattern string `json:"pattern"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("failed to parse arguments: %v", err)}, nil
	}

	pattern := strings.TrimSpace(a.Pattern)
	if pattern == "" {
		return tool.ToolResult{Error: "pattern must not be empty"}, nil
	}

	root := t.workspaceDir
	if root == "" {
		return tool.ToolResult{Error: "workspace directory is not set"}, nil
	}

	var results []string
	lowerPattern := strings.ToLower(pattern)
	isGlob := strings.ContainsAny(pattern, "*?[")

	// WalkDir's error return is used only to signal early termination (limit
	// reached, or ctx cancelled). Per-entry filesystem errors are swallowed
	// in the callback so one bad entry doesn't abort the whole walk.
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return nil
		}
		if d.IsDir() && skipDirs[d.Name()] {
			return filepath.SkipDir
		}

		name := d.Name()
		var matched bool
		if isGlob {
			// Lowercase both sides so "*.Go" matches "main.go" on every platform.
			matched, _ = filepath.Match(lowerPattern, strings.ToLower(name))
		} else {
			matched = strings.Contains(strings.ToLower(name), lowerPattern)
		}

		if matched {
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				rel = path
			}
			prefix := "file: "
			if d.IsDir() {
				prefix = "dir:  "
			}
			results = append(results, prefix+rel)
			if len(results) >= maxFindResults {
				return errFindLimitReached
			}
		}
		return nil
	})

	if len(results) == 0 {
		return tool.ToolResult{Output: fmt.Sprintf("no files or directories matched %q", pattern)}, nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("found %d matches:\n", len(results)))
	for _, r := range results {
		sb.WriteString(r + "\n")
	}
	if len(results) >= maxFindResults {
		sb.WriteString(fmt.Sprintf("(results truncated, showing at most %d)\n", maxFindResults))
	}

	return tool.ToolResult{Output: sb.String()}, nil
}

var errFindLimitReached = fmt.Errorf("find: result limit reached")

// ── shared helpers ──

// safeResolvePath resolves path against workspaceDir and validates the result
// stays inside the workspace. Guards against path traversal (../../etc/passwd),
// prefix collisions (workspace "/project" vs path "/project-evil/x"), and
// symlink escapes where a symlink inside the workspace points outside it.
func safeResolvePath(path, workspaceDir string) (string, error) {
	var resolved string
	switch {
	case filepath.IsAbs(path):
		resolved = filepath.Clean(path)
	case workspaceDir != "":
		resolved = filepath.Clean(filepath.Join(workspaceDir, path))
	default:
		resolved = filepath.Clean(path)
	}

	if workspaceDir == "" {
		return resolved, nil
	}

	absWorkspace, err := filepath.Abs(workspaceDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace directory: %w", err)
	}
	// Resolve symlinks on the workspace root itself, so a workspace that is
	// itself a symlink is still bounded correctly.
	realWorkspace, err := filepath.EvalSymlinks(absWorkspace)
	if err != nil {
		realWorkspace = absWorkspace // workspace doesn't exist yet on disk
	}

	absResolved, err := filepath.Abs(resolved)
	if err != nil {
		return "", fmt.Errorf("failed to resolve target path: %w", err)
	}
	realResolved, _ := resolveExisting(absResolved)

	// On Windows, EvalSymlinks returns canonical casing for existing paths but
	// falls back to the cleaned abs path (original casing) otherwise —
	// normalize both sides to lowercase for a case-insensitive comparison.
	if runtime.GOOS == "windows" {
		realWorkspace = strings.ToLower(realWorkspace)
		realResolved = strings.ToLower(realResolved)
	}

	// Compare with a trailing separator to avoid a prefix collision between
	// e.g. "/project" and "/project-evil".
	if realResolved != realWorkspace &&
		!strings.HasPrefix(realResolved, realWorkspace+string(os.PathSeparator)) {
		return "", fmt.Errorf("blocked: path %q escapes workspace %q — file tools may only touch files inside the workspace; use shell_exec for paths outside it", path, workspaceDir)
	}

	return resolved, nil
}

// resolveExisting resolves symlinks for an existing path, or for its parent
// directory when the path itself doesn't exist yet (e.g. a file about to be
// written), to catch symlink-escape attacks inside the workspace.
func resolveExisting(path string) (string, error) {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real, nil
	}
	if real, err := filepath.EvalSymlinks(filepath.Dir(path)); err == nil {
		return filepath.Join(real, filepath.Base(path)), nil
	}
	return path, nil
}

// protectedFiles maps workspace-relative filenames to the tool that should be
// used instead. Writes to these via file_write are blocked at the code
// level to prevent accidental corruption by the agent.
var protectedFiles = map[string]string{
	"mcp.json": "mcp_server_add/mcp_server_remove",
}

// checkProtectedFile returns a non-empty error message when resolvedPath
// points to a protected file that generic file tools must not touch.
func checkProtectedFile(resolvedPath, workspaceDir string) string {
	if workspaceDir == "" {
		return ""
	}
	base := filepath.Base(resolvedPath)
	dir := filepath.Dir(resolvedPath)
	absWorkspace, _ := filepath.Abs(workspaceDir)

	if runtime.GOOS == "windows" {
		dir = strings.ToLower(dir)
		absWorkspace = strings.ToLower(absWorkspace)
		base = strings.ToLower(base)
	}

	if dir != absWorkspace {
		return "" // only protect files at the workspace root
	}
	if alt, ok := protectedFiles[base]; ok {
		return fmt.Sprintf("refusing to modify %s directly — use the %s tool instead; hand-editing it corrupts the format and loses config", base, alt)
	}
	return ""
}
