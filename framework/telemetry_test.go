package framework

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTelemetry struct {
	events []Event
}

func (r *recordingTelemetry) Emit(event Event) { r.events = append(r.events, event) }

func TestMultiplexTelemetrySkipsNilSinks(t *testing.T) {
	a := &recordingTelemetry{}
	b := &recordingTelemetry{}
	mux := MultiplexTelemetry{Sinks: []Telemetry{a, nil, b}}
	mux.Emit(Event{Type: EventToolCall, Tool: "echo"})
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
	assert.Equal(t, "echo", b.events[0].Tool)
}

func TestJSONFileTelemetryWritesLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink, err := NewJSONFileTelemetry(path)
	require.NoError(t, err)
	sink.Emit(Event{Type: EventQueryStart, Message: "start"})
	sink.Emit(Event{Type: EventQueryFinish, Iteration: 2})
	require.NoError(t, sink.Close())
	sink.Emit(Event{Type: EventToolCall})
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var types []EventType
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		types = append(types, ev.Type)
	}
	assert.Equal(t, []EventType{EventQueryStart, EventQueryFinish}, types)
}
