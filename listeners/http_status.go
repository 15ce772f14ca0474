// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package listeners

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var statusJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// SnapshotFunc returns the value to serve as JSON on every request.
type SnapshotFunc func() any

// HTTPStatus is a plain-HTTP (no TLS, per the broker's transport
// non-goals) listener that serves a broker snapshot as JSON on every
// request to "/".
type HTTPStatus struct {
	id      string
	address string
	snap    SnapshotFunc
	listen  *http.Server
	end     uint32
}

// NewHTTPStatus returns an HTTPStatus listener bound to address, serving
// whatever snap returns.
func NewHTTPStatus(id, address string, snap SnapshotFunc) *HTTPStatus {
	return &HTTPStatus{id: id, address: address, snap: snap}
}

// ID returns the listener's id.
func (l *HTTPStatus) ID() string { return l.id }

// Serve starts the HTTP server; establish is unused since HTTP connection
// handling is delegated to net/http.
func (l *HTTPStatus) Serve(EstablishFunc) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", l.handle)
	l.listen = &http.Server{
		Addr:         l.address,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	l.listen.ListenAndServe()
}

func (l *HTTPStatus) handle(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	enc := statusJSON.NewEncoder(w)
	enc.SetIndent("", "\t")
	if err := enc.Encode(l.snap()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Close shuts the HTTP server down and invokes closer once, guarded so a
// repeated Close is a no-op.
func (l *HTTPStatus) Close(closer CloseFunc) {
	if !atomic.CompareAndSwapUint32(&l.end, 0, 1) || l.listen == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l.listen.Shutdown(ctx)
	closer(l.id)
}
