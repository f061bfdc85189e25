package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryManager_GetAbsentReturnsEmptyState(t *testing.T) {
	m := NewInMemoryManager()
	s, err := m.Get("ctx-1")
	require.NoError(t, err)
	assert.Equal(t, "ctx-1", s.ContextID)
	assert.Empty(t, s.Messages)
}

func TestInMemoryManager_SetGetRoundTrip(t *testing.T) {
	m := NewInMemoryManager()
	s, err := m.Get("ctx-1")
	require.NoError(t, err)
	s.Messages = append(s.Messages, Message{Role: RoleUser, Text: "hello"})
	require.NoError(t, m.Set("ctx-1", s))

	got, err := m.Get("ctx-1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hello", got.Messages[0].Text)
}

func TestInMemoryManager_GetReturnsCopyNotLiveView(t *testing.T) {
	m := NewInMemoryManager()
	s, err := m.Get("ctx-1")
	require.NoError(t, err)
	s.Messages = append(s.Messages, Message{Role: RoleUser, Text: "hello"})
	require.NoError(t, m.Set("ctx-1", s))

	first, err := m.Get("ctx-1")
	require.NoError(t, err)
	first.Messages[0].Text = "mutated"

	second, err := m.Get("ctx-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", second.Messages[0].Text, "mutating a fetched copy must not leak back into storage")
}

func TestInMemoryManager_Delete(t *testing.T) {
	m := NewInMemoryManager()
	require.NoError(t, m.Set("ctx-1", &ConversationState{ContextID: "ctx-1", Messages: []Message{{Role: RoleUser, Text: "hi"}}}))
	require.NoError(t, m.Delete("ctx-1"))

	s, err := m.Get("ctx-1")
	require.NoError(t, err)
	assert.Empty(t, s.Messages)
}

func TestInMemoryManager_WithLockSerializesConcurrentAppends(t *testing.T) {
	m := NewInMemoryManager()
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = m.WithLock("ctx-1", func(s *ConversationState) error {
				s.Messages = append(s.Messages, Message{Role: RoleUser, Text: fmt.Sprintf("msg-%d", i)})
				return nil
			})
		}(i)
	}
	wg.Wait()

	s, err := m.Get("ctx-1")
	require.NoError(t, err)
	assert.Len(t, s.Messages, n, "concurrent WithLock calls must not lose or duplicate appends")
}
