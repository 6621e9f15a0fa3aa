package proxy

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSessionRegistryRingNewestFirst(t *testing.T) {
	registry := NewSessionRegistry(4, zerolog.Nop())

	for i := 0; i < 6; i++ {
		session := registry.Open(uuid.New(), "GET", fmt.Sprintf("/bucket/obj-%d", i))
		session.Close(200, "")
	}

	require.Equal(t, 0, registry.ActiveCount())

	records := registry.Recent(0)
	require.Len(t, records, 4)
	require.Equal(t, "/bucket/obj-5", records[0].Path)
	require.Equal(t, "/bucket/obj-4", records[1].Path)
	require.Equal(t, "/bucket/obj-3", records[2].Path)
	require.Equal(t, "/bucket/obj-2", records[3].Path)

	limited := registry.Recent(2)
	require.Len(t, limited, 2)
	require.Equal(t, "/bucket/obj-5", limited[0].Path)
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	registry := NewSessionRegistry(4, zerolog.Nop())

	session := registry.Open(uuid.New(), "PUT", "/bucket/once")
	session.Close(200, "")
	session.Close(500, "InternalError")

	records := registry.Recent(0)
	require.Len(t, records, 1)
	require.Equal(t, 200, records[0].Status)
	require.Empty(t, records[0].ErrorCode)
}

func TestSessionRegistryConcurrentSessions(t *testing.T) {
	registry := NewSessionRegistry(128, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session := registry.Open(uuid.New(), "GET", fmt.Sprintf("/bucket/c-%d", i))
			session.SetBytes(int64(i), int64(i*2))
			session.Close(200, "")
		}(i)
	}
	wg.Wait()

	require.Equal(t, 0, registry.ActiveCount())
	require.Len(t, registry.Recent(0), 64)
}

func TestSessionRegistryDrain(t *testing.T) {
	registry := NewSessionRegistry(4, zerolog.Nop())

	session := registry.Open(uuid.New(), "GET", "/bucket/slow")
	require.Equal(t, 1, registry.ActiveCount())

	go func() {
		time.Sleep(100 * time.Millisecond)
		session.Close(200, "")
	}()

	remaining := registry.Drain(time.Now().Add(2 * time.Second))
	require.Equal(t, 0, remaining)

	stuck := registry.Open(uuid.New(), "GET", "/bucket/stuck")
	_ = stuck
	remaining = registry.Drain(time.Now().Add(150 * time.Millisecond))
	require.Equal(t, 1, remaining)
}
