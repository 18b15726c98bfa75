package framework

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultMaxMessages bounds the conversation log when no limit is given.
const DefaultMaxMessages = 100

// Message is one entry of the conversation log.
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// MemoryItem is a keyed scratch value used to hand data between tools.
type MemoryItem struct {
	Key       string         `json:"key"`
	Value     any            `json:"value"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Snapshot is the serialisable state of a Memory.
type Snapshot struct {
	Messages    []Message             `json:"messages"`
	Items       map[string]MemoryItem `json:"items"`
	MaxMessages int                   `json:"max_messages"`
}

// Memory holds the bounded conversation log and the keyed scratch store for
// a single conversation. Methods are safe to call from multiple goroutines,
// but interleaving two queries on one Memory still produces a meaningless
// transcript; give each conversation its own instance.
type Memory struct {
	mu          sync.RWMutex
	messages    []Message
	items       map[string]*MemoryItem
	maxMessages int
	now         func() time.Time
}

// NewMemory creates an empty memory keeping at most maxMessages log entries.
// Non-positive limits fall back to DefaultMaxMessages.
func NewMemory(maxMessages int) *Memory {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &Memory{
		items:       make(map[string]*MemoryItem),
		maxMessages: maxMessages,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// MaxMessages reports the configured sliding-window size.
func (m *Memory) MaxMessages() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxMessages
}

// AddMessage appends to the log and drops the oldest entries beyond the
// window.
func (m *Memory) AddMessage(role, content string, metadata map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, Message{
		Role:      role,
		Content:   content,
		Metadata:  copyMap(metadata),
		Timestamp: m.now(),
	})
	if overflow := len(m.messages) - m.maxMessages; overflow > 0 {
		trimmed := make([]Message, m.maxMessages)
		copy(trimmed, m.messages[overflow:])
		m.messages = trimmed
	}
}

// History projects the log into model wire order without metadata.
func (m *Memory) History() []ChatMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ChatMessage, len(m.messages))
	for i, msg := range m.messages {
		out[i] = ChatMessage{Role: msg.Role, Content: msg.Content}
	}
	return out
}

// Messages returns a copy of the full log including metadata.
func (m *Memory) Messages() []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyMessages(m.messages)
}

// Remember stores value under key. An existing item keeps its creation time,
// has its value replaced and its metadata merged.
func (m *Memory) Remember(key string, value any, metadata map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if item, ok := m.items[key]; ok {
		item.Value = value
		if len(metadata) > 0 {
			if item.Metadata == nil {
				item.Metadata = make(map[string]any, len(metadata))
			}
			for k, v := range metadata {
				item.Metadata[k] = v
			}
		}
		item.UpdatedAt = now
		return
	}
	m.items[key] = &MemoryItem{
		Key:       key,
		Value:     value,
		Metadata:  copyMap(metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Recall returns the value stored under key. ok is false when the key is
// absent; a stored nil is reported as present.
func (m *Memory) Recall(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[key]
	if !ok {
		return nil, false
	}
	return item.Value, true
}

// RecallItem returns a copy of the item including metadata and timestamps.
func (m *Memory) RecallItem(key string) (MemoryItem, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[key]
	if !ok {
		return MemoryItem{}, false
	}
	return copyItem(*item), true
}

// Has reports whether key is present.
func (m *Memory) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.items[key]
	return ok
}

// Forget removes key and reports whether it existed.
func (m *Memory) Forget(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[key]; !ok {
		return false
	}
	delete(m.items, key)
	return true
}

// Keys lists stored keys in lexical order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ClearItems empties the keyed store.
func (m *Memory) ClearItems() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]*MemoryItem)
}

// Clear empties both the log and the keyed store.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]*MemoryItem)
	m.messages = nil
}

// Snapshot captures the current state. The returned value shares nothing
// with the memory.
func (m *Memory) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := &Snapshot{
		Messages:    copyMessages(m.messages),
		Items:       make(map[string]MemoryItem, len(m.items)),
		MaxMessages: m.maxMessages,
	}
	for k, item := range m.items {
		snap.Items[k] = copyItem(*item)
	}
	return snap
}

// Serialize encodes the snapshot as JSON. Item values go through
// encoding/json, so a restored memory holds their JSON forms: integers come
// back as float64, typed slices and structs as []any and map[string]any.
func (m *Memory) Serialize() ([]byte, error) {
	data, err := json.Marshal(m.Snapshot())
	if err != nil {
		return nil, &MemoryError{Message: "failed to serialize memory", Cause: err}
	}
	return data, nil
}

// Restore decodes a JSON snapshot produced by Serialize. Values compare equal
// to the originals only after both sides are put through a JSON round trip.
func Restore(data []byte) (*Memory, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &MemoryError{Message: "malformed snapshot", Cause: err}
	}
	return RestoreSnapshot(&snap)
}

// RestoreSnapshot rebuilds a Memory from snap, preserving timestamps and
// metadata exactly.
func RestoreSnapshot(snap *Snapshot) (*Memory, error) {
	if snap == nil {
		return nil, &MemoryError{Message: "snapshot is nil"}
	}
	if snap.MaxMessages < 0 {
		return nil, &MemoryError{Message: fmt.Sprintf("invalid max_messages %d", snap.MaxMessages)}
	}
	mem := NewMemory(snap.MaxMessages)
	for i, msg := range snap.Messages {
		if msg.Role == "" {
			return nil, &MemoryError{Message: fmt.Sprintf("message %d has no role", i)}
		}
	}
	for key, item := range snap.Items {
		if key == "" {
			return nil, &MemoryError{Message: "item with empty key"}
		}
		if item.Key != "" && item.Key != key {
			return nil, &MemoryError{Message: fmt.Sprintf("item key %q does not match map key %q", item.Key, key)}
		}
		restored := copyItem(item)
		restored.Key = key
		mem.items[key] = &restored
	}
	messages := snap.Messages
	if overflow := len(messages) - mem.maxMessages; overflow > 0 {
		messages = messages[overflow:]
	}
	mem.messages = copyMessages(messages)
	return mem, nil
}

func copyMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, len(in))
	for i, msg := range in {
		msg.Metadata = copyMap(msg.Metadata)
		out[i] = msg
	}
	return out
}

func copyItem(item MemoryItem) MemoryItem {
	item.Metadata = copyMap(item.Metadata)
	item.Value = copyAny(item.Value)
	return item
}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyAny(v)
	}
	return out
}

func copyAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyAny(item)
		}
		return out
	default:
		return v
	}
}
