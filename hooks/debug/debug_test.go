// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package debug

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestHook(buf *bytes.Buffer) *Hook {
	log := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(log)
}

func TestDebugHookID(t *testing.T) {
	h := newTestHook(&bytes.Buffer{})
	require.Equal(t, "debug", h.ID())
}

func TestDebugHookOnConnectLogsClientID(t *testing.T) {
	var buf bytes.Buffer
	h := newTestHook(&buf)

	require.True(t, h.OnConnect("cl1"))
	require.Contains(t, buf.String(), "client connected")
	require.Contains(t, buf.String(), "cl1")
}

func TestDebugHookOnDisconnectLogsErrorWhenPresent(t *testing.T) {
	var buf bytes.Buffer
	h := newTestHook(&buf)

	h.OnDisconnect("cl1", errors.New("boom"))
	require.Contains(t, buf.String(), "boom")
}

func TestDebugHookOnDisconnectOmitsErrorFieldWhenNil(t *testing.T) {
	var buf bytes.Buffer
	h := newTestHook(&buf)

	h.OnDisconnect("cl1", nil)
	require.NotContains(t, buf.String(), "error=")
}

func TestDebugHookOnSubscribeAndUnsubscribe(t *testing.T) {
	var buf bytes.Buffer
	h := newTestHook(&buf)

	require.Equal(t, byte(1), h.OnSubscribe("cl1", "a/b", 1))
	require.Contains(t, buf.String(), "a/b")

	buf.Reset()
	h.OnUnsubscribe("cl1", "a/b")
	require.Contains(t, buf.String(), "client unsubscribed")
}

func TestDebugHookOnPublishOmitsPayloadButLogsSize(t *testing.T) {
	var buf bytes.Buffer
	h := newTestHook(&buf)

	h.OnPublish("cl1", "a/b", []byte("secret payload"), 1, true)

	out := buf.String()
	require.Contains(t, out, "size=14")
	require.NotContains(t, out, "secret payload")
}

func TestDebugHookOnWillPublishLogsAndAllows(t *testing.T) {
	var buf bytes.Buffer
	h := newTestHook(&buf)

	require.True(t, h.OnWillPublish("cl1", "a/b", []byte("secret will"), 1, true))

	out := buf.String()
	require.Contains(t, out, "publishing will")
	require.NotContains(t, out, "secret will")
}
