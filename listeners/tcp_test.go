// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package listeners

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTCPAcceptsAndEstablishesConnections(t *testing.T) {
	tcp, err := NewTCP("tcp1", "127.0.0.1:0")
	require.NoError(t, err)
	require.Equal(t, "tcp1", tcp.ID())

	addr := tcp.listen.Addr().String()

	established := make(chan net.Conn, 1)
	go tcp.Serve(func(c net.Conn) error {
		established <- c
		return nil
	})
	defer tcp.Close(MockCloser)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case c := <-established:
		require.NotNil(t, c)
	case <-time.After(time.Second):
		t.Fatal("establish was never called")
	}
}

func TestTCPCloseStopsAcceptingAndIsIdempotent(t *testing.T) {
	tcp, err := NewTCP("tcp1", "127.0.0.1:0")
	require.NoError(t, err)

	go tcp.Serve(MockEstablisher)

	var closerCalls int
	closer := func(id string) { closerCalls++ }

	tcp.Close(closer)
	tcp.Close(closer) // second call must not panic or double-invoke closer

	require.Equal(t, 1, closerCalls)
}

func TestMockListenerLifecycle(t *testing.T) {
	m := NewMockListener("mock1", "n/a")
	require.Equal(t, "mock1", m.ID())
	require.False(t, m.IsServing())

	done := make(chan struct{})
	go func() {
		m.Serve(MockEstablisher)
		close(done)
	}()

	require.Eventually(t, m.IsServing, time.Second, time.Millisecond)

	var closed string
	m.Close(func(id string) { closed = id })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Serve never returned after Close")
	}
	require.Equal(t, "mock1", closed)
	require.False(t, m.IsServing())
}
