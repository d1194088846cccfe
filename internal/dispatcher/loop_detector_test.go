package dispatcher

import "testing"

func TestCheck_SameToolFrequency_Triggered(t *testing.T) {
	history := []CallRecord{
		{ToolName: "web_search", Arguments: `{"query":"rust"}`},
		{ToolName: "web_search", Arguments: `{"query":"rust lang"}`},
		{ToolName: "web_search", Arguments: `{"query":"rust features"}`},
	}
	d := LoopDetector{}
	v := d.Check(history)
	if !v.Detected {
		t.Fatal("expected detection")
	}
	if v.Rule != "same_tool_freq" {
		t.Fatalf("expected rule same_tool_freq, got %s", v.Rule)
	}
}

func TestCheck_SameToolFrequency_NotTriggered(t *testing.T) {
	history := []CallRecord{
		{ToolName: "web_search", Arguments: `{"query":"Go concurrency patterns"}`},
		{ToolName: "web_search", Arguments: `{"query":"Python async tutorial"}`},
	}
	d := LoopDetector{}
	if v := d.Check(history); v.Detected {
		t.Fatalf("expected no detection for 2 calls with different queries, got rule=%s", v.Rule)
	}
}

func TestCheck_SameToolFrequency_DifferentTools(t *testing.T) {
	history := []CallRecord{
		{ToolName: "web_search", Arguments: `{"query":"a"}`},
		{ToolName: "mcp_fs__read", Arguments: `{"path":"a.txt"}`},
		{ToolName: "shell_exec", Arguments: `{"command":"ls"}`},
	}
	d := LoopDetector{}
	if v := d.Check(history); v.Detected {
		t.Fatal("expected no detection for different tools")
	}
}

func TestCheck_SameToolFrequency_FileToolDiffPath(t *testing.T) {
	history := []CallRecord{
		{ToolName: "mcp_fs__read", Arguments: `{"path":"a.txt"}`},
		{ToolName: "mcp_fs__read", Arguments: `{"path":"b.txt"}`},
		{ToolName: "mcp_fs__read", Arguments: `{"path":"c.txt"}`},
	}
	d := LoopDetector{}
	if v := d.Check(history); v.Detected {
		t.Fatal("expected no detection: 3 reads with different paths is legitimate")
	}
}

func TestCheck_SameToolFrequency_FileToolSamePath(t *testing.T) {
	history := []CallRecord{
		{ToolName: "mcp_fs__read", Arguments: `{"path":"config.yaml"}`},
		{ToolName: "mcp_fs__read", Arguments: `{"path":"config.yaml"}`},
		{ToolName: "mcp_fs__read", Arguments: `{"path":"config.yaml"}`},
	}
	d := LoopDetector{}
	v := d.Check(history)
	if !v.Detected {
		t.Fatal("expected detection: same file read 3 times")
	}
	if v.Rule != "same_tool_freq" {
		t.Fatalf("expected same_tool_freq, got %s", v.Rule)
	}
}

func TestCheck_SameToolFrequency_ShellExecDiffCommands(t *testing.T) {
	history := []CallRecord{
		{ToolName: "shell_exec", Arguments: `{"command":"go build"}`},
		{ToolName: "shell_exec", Arguments: `{"command":"go test"}`},
		{ToolName: "shell_exec", Arguments: `{"command":"go vet"}`},
	}
	d := LoopDetector{}
	if v := d.Check(history); v.Detected {
		t.Fatal("expected no detection: 3 different shell commands is legitimate")
	}
}

func TestCheck_SameToolFrequency_ShellExecSameCommand(t *testing.T) {
	history := []CallRecord{
		{ToolName: "shell_exec", Arguments: `{"command":"go build ./..."}`},
		{ToolName: "shell_exec", Arguments: `{"command":"go build ./..."}`},
		{ToolName: "shell_exec", Arguments: `{"command":"go build ./..."}`},
	}
	d := LoopDetector{}
	v := d.Check(history)
	if !v.Detected {
		t.Fatal("expected detection: same shell command run 3 times")
	}
}

func TestCheck_SimilarParams_SearchQueryChinese(t *testing.T) {
	history := []CallRecord{
		{ToolName: "web_search", Arguments: `{"query":"Rust 最新特性介绍总结"}`},
		{ToolName: "web_search", Arguments: `{"query":"Rust 最新特性介绍汇总"}`},
	}
	d := LoopDetector{}
	v := d.Check(history)
	if !v.Detected {
		t.Fatal("expected detection: similar Chinese queries")
	}
	if v.Rule != "similar_params" {
		t.Fatalf("expected similar_params, got %s", v.Rule)
	}
}

func TestCheck_SimilarParams_SearchQueryEnglish(t *testing.T) {
	history := []CallRecord{
		{ToolName: "web_search", Arguments: `{"query":"Rust features 2025"}`},
		{ToolName: "web_search", Arguments: `{"query":"Rust latest features 2025"}`},
	}
	d := LoopDetector{}
	if v := d.Check(history); !v.Detected {
		t.Fatal("expected detection: similar English queries")
	}
}

func TestCheck_SimilarParams_SameFilePath(t *testing.T) {
	history := []CallRecord{
		{ToolName: "mcp_fs__read", Arguments: `{"path":"main.go"}`},
		{ToolName: "mcp_fs__read", Arguments: `{"path":"main.go"}`},
	}
	d := LoopDetector{}
	if v := d.Check(history); !v.Detected {
		t.Fatal("expected detection: same file read twice consecutively")
	}
}

func TestCheck_SimilarParams_DifferentParams(t *testing.T) {
	history := []CallRecord{
		{ToolName: "web_search", Arguments: `{"query":"Go concurrency"}`},
		{ToolName: "web_search", Arguments: `{"query":"Python async await"}`},
	}
	d := LoopDetector{}
	if v := d.Check(history); v.Detected {
		t.Fatal("expected no detection: completely different queries")
	}
}

func TestCheck_ConsecutiveErrors_Triggered(t *testing.T) {
	history := []CallRecord{
		{ToolName: "mcp_fs__patch", Arguments: `{}`, IsError: true},
		{ToolName: "mcp_fs__patch", Arguments: `{}`, IsError: true},
		{ToolName: "mcp_fs__read", Arguments: `{}`, IsError: true},
	}
	d := LoopDetector{}
	v := d.Check(history)
	if !v.Detected {
		t.Fatal("expected detection: 3 consecutive errors")
	}
	if v.Rule != "consecutive_errors" {
		t.Fatalf("expected consecutive_errors, got %s", v.Rule)
	}
}

func TestCheck_ConsecutiveErrors_Interrupted(t *testing.T) {
	history := []CallRecord{
		{ToolName: "mcp_fs__patch", Arguments: `{}`, IsError: true},
		{ToolName: "mcp_fs__read", Arguments: `{}`, IsError: false},
		{ToolName: "mcp_fs__patch", Arguments: `{}`, IsError: true},
	}
	d := LoopDetector{}
	if v := d.Check(history); v.Detected {
		t.Fatal("expected no detection: success interrupted the streak")
	}
}

func TestCheck_NoHistory(t *testing.T) {
	d := LoopDetector{}
	if v := d.Check(nil); v.Detected {
		t.Fatal("expected no detection on empty history")
	}
}

func TestCheck_NormalFlow(t *testing.T) {
	history := []CallRecord{
		{ToolName: "web_search", Arguments: `{"query":"Go 1.22"}`},
		{ToolName: "mcp_web__reader", Arguments: `{"url":"https://go.dev"}`},
	}
	d := LoopDetector{}
	if v := d.Check(history); v.Detected {
		t.Fatal("expected no detection: normal 2-tool flow")
	}
}

func TestBigrams_English(t *testing.T) {
	b := bigrams("hello")
	expected := map[string]bool{"he": true, "el": true, "ll": true, "lo": true}
	if len(b) != len(expected) {
		t.Fatalf("expected %d bigrams, got %d", len(expected), len(b))
	}
	for k := range expected {
		if !b[k] {
			t.Fatalf("missing bigram %q", k)
		}
	}
}

func TestBigrams_Chinese(t *testing.T) {
	b := bigrams("你好世界")
	expected := map[string]bool{"你好": true, "好世": true, "世界": true}
	if len(b) != len(expected) {
		t.Fatalf("expected %d bigrams, got %d", len(expected), len(b))
	}
	for k := range expected {
		if !b[k] {
			t.Fatalf("missing bigram %q", k)
		}
	}
}

func TestJaccardSimilarity(t *testing.T) {
	a := map[string]bool{"ab": true, "bc": true}
	if j := jaccardSimilarity(a, a); j != 1.0 {
		t.Fatalf("expected 1.0, got %f", j)
	}

	b := map[string]bool{"xy": true, "yz": true}
	if j := jaccardSimilarity(a, b); j != 0.0 {
		t.Fatalf("expected 0.0, got %f", j)
	}

	c := map[string]bool{"ab": true, "cd": true}
	j := jaccardSimilarity(a, c)
	if j < 0.3 || j > 0.4 {
		t.Fatalf("expected ~0.333, got %f", j)
	}
}

func TestJaccardSimilarity_BothEmpty(t *testing.T) {
	if j := jaccardSimilarity(map[string]bool{}, map[string]bool{}); j != 1.0 {
		t.Fatalf("expected 1.0 for empty sets, got %f", j)
	}
	if j2 := jaccardSimilarity(bigrams(""), bigrams("")); j2 != 1.0 {
		t.Fatalf("expected 1.0 for bigrams of empty strings, got %f", j2)
	}
}

func TestIsSearchTool(t *testing.T) {
	tests := []struct {
		tool string
		want bool
	}{
		{"web_search", true},
		{"mcp_google__search", true},
		{"shell_exec", false},
		{"mcp_fs__read", false},
	}
	for _, tt := range tests {
		if got := isSearchTool(tt.tool); got != tt.want {
			t.Errorf("isSearchTool(%q) = %v, want %v", tt.tool, got, tt.want)
		}
	}
}
