// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package listeners

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type statusPayload struct {
	Clients int `json:"clients"`
}

func TestHTTPStatusHandleEncodesSnapshotAsJSON(t *testing.T) {
	l := NewHTTPStatus("status", "127.0.0.1:0", func() any {
		return statusPayload{Clients: 3}
	})
	require.Equal(t, "status", l.ID())

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()

	l.handle(rec, req)

	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got statusPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 3, got.Clients)
}

func TestHTTPStatusCloseIsSafeBeforeServe(t *testing.T) {
	l := NewHTTPStatus("status", "127.0.0.1:0", func() any { return nil })

	var closed string
	require.NotPanics(t, func() {
		l.Close(func(id string) { closed = id })
	})
	require.Empty(t, closed, "Close before Serve has nothing to shut down and skips the callback")
}

func TestHTTPStatusCloseAfterServeInvokesCloserOnce(t *testing.T) {
	l := NewHTTPStatus("status", "127.0.0.1:0", func() any { return nil })
	go l.Serve(nil)

	require.Eventually(t, func() bool { return l.listen != nil }, time.Second, time.Millisecond)

	var closerCalls int
	l.Close(func(id string) { closerCalls++ })
	l.Close(func(id string) { closerCalls++ }) // second call is a no-op

	require.Equal(t, 1, closerCalls)
}
