package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukut03/agents/app/runtime"
	"github.com/mukut03/agents/framework"
)

type echoModel struct{}

func (echoModel) Chat(ctx context.Context, messages []framework.ChatMessage, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	last := messages[len(messages)-1].Content
	body, _ := json.Marshal(map[string]any{"tool": "answer", "tool_input": map[string]any{"text": "echo: " + last}})
	return &framework.LLMResponse{Text: "<action>" + string(body) + "</action>"}, nil
}

func (echoModel) StreamChat(ctx context.Context, messages []framework.ChatMessage, options *framework.LLMOptions) (<-chan framework.StreamChunk, error) {
	return nil, errors.New("not streaming")
}

func (echoModel) IsAvailable(ctx context.Context) bool { return true }

// setupCLI writes an agent.yaml pointing storage at a temp dir and returns
// its path.
func setupCLI(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	yaml := "storage:\n  driver: file\n  path: " + filepath.Join(dir, "sessions") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	runtimeOptions = runtime.Options{Model: echoModel{}, Registerer: prometheus.NewRegistry(), LogOutput: io.Discard}
	t.Cleanup(func() { runtimeOptions = runtime.Options{} })
	return path
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestAskAndMemoryCommands(t *testing.T) {
	cfg := setupCLI(t)

	out, err := run(t, "", "--config", cfg, "ask", "--plain", "--session", "trip", "how", "far")
	require.NoError(t, err)
	assert.Equal(t, "echo: how far\n", out)

	out, err = run(t, "", "--config", cfg, "memory", "list")
	require.NoError(t, err)
	assert.Equal(t, "trip\n", out)

	out, err = run(t, "", "--config", cfg, "memory", "show", "trip")
	require.NoError(t, err)
	var snap framework.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "how far", snap.Messages[0].Content)

	_, err = run(t, "", "--config", cfg, "memory", "clear", "trip")
	require.NoError(t, err)
	_, err = run(t, "", "--config", cfg, "memory", "show", "trip")
	assert.ErrorContains(t, err, "not found")
}

func TestToolsCommand(t *testing.T) {
	cfg := setupCLI(t)

	out, err := run(t, "", "--config", cfg, "tools")
	require.NoError(t, err)
	assert.Contains(t, out, "3 tools")
	assert.Contains(t, out, "sample_polyline")
	assert.Contains(t, out, "encoded_polyline: string (required)")

	out, err = run(t, "", "--config", cfg, "tools", "--prompt")
	require.NoError(t, err)
	assert.Contains(t, out, "<action>")
}

func TestChatCommand(t *testing.T) {
	cfg := setupCLI(t)

	out, err := run(t, "hello\n\n/reset\n/exit\nignored\n", "--config", cfg, "chat", "--plain")
	require.NoError(t, err)
	assert.Contains(t, out, "echo: hello")
	assert.Contains(t, out, "conversation cleared")
	assert.NotContains(t, out, "ignored")
}

func TestConfigCommands(t *testing.T) {
	cfg := setupCLI(t)

	_, err := run(t, "", "--config", cfg, "config", "set", "agent.max_iterations", "9")
	require.NoError(t, err)
	out, err := run(t, "", "--config", cfg, "config", "get", "agent.max_iterations")
	require.NoError(t, err)
	assert.Equal(t, "9\n", out)

	_, err = run(t, "", "--config", cfg, "config", "set", "agent.max_iterations", "1")
	require.NoError(t, err)
	out, err = run(t, "", "--config", cfg, "config", "get", "agent.max_iterations")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	out, err = run(t, "", "--config", cfg, "config", "get", "llm.model")
	require.NoError(t, err)
	assert.Equal(t, "llama3.1\n", out)

	_, err = run(t, "", "--config", cfg, "config", "set", "agent.max_iterations", "0")
	var cfgErr *framework.ConfigError
	assert.ErrorAs(t, err, &cfgErr)

	_, err = run(t, "", "--config", cfg, "config", "get", "agent.missing")
	assert.ErrorContains(t, err, "not found")

	_, err = run(t, "", "--config", cfg, "config", "set", "agent.max_iteration", "3")
	assert.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "agent.max_iteration", cfgErr.Field)
}
