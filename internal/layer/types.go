// Package layer implements the Layered Pre-processor (spec §4.12): a
// configurable chain of mini-sessions, each with its own system prompt,
// model, and allowed-tool filter. Temperature and MCP server subset are
// parsed from layer.yaml but not applied (see runner.go). Processor.Run
// executes the chain; the relay CLI builds a Processor but does not call it.
package layer

// InputMode controls how a layer's output feeds the next layer's input.
type InputMode string

const (
	InputReplace InputMode = "replace"
	InputAppend  InputMode = "append"
	InputPrepend InputMode = "prepend"
)

// OutputMode controls whether a layer's output is injected into the main
// session's Message Log.
type OutputMode string

const (
	OutputNone    OutputMode = "none"
	OutputAppend  OutputMode = "append"
	OutputReplace OutputMode = "replace"
)

// Def is the parsed content of one layer's layer.yaml.
type Def struct {
	Name         string   `yaml:"name"`
	SystemPrompt string   `yaml:"system_prompt"`
	Model        string   `yaml:"model"`
	Temperature  float64  `yaml:"temperature"`
	MCPServers   []string `yaml:"mcp_servers"`   // parsed, not applied by Processor
	AllowedTools []string `yaml:"allowed_tools"` // empty = every registered tool
	InputMode    InputMode  `yaml:"input_mode"`
	OutputMode   OutputMode `yaml:"output_mode"`

	// Dir is set by ScanDir to the layer's directory; not present in layer.yaml.
	Dir string `yaml:"-"`
}
