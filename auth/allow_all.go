// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-co
// SPDX-FileContributor: mochi-co

package auth

// AllowAll is an Auth provider which grants every connection, publish, and
// subscription unconditionally. It is the broker's default when no auth
// config is supplied.
type AllowAll struct{}

// Authenticate always allows.
func (AllowAll) Authenticate(clientID, username string, password []byte) bool { return true }

// AuthorizePublish always allows.
func (AllowAll) AuthorizePublish(clientID, topic string) bool { return true }

// AuthorizeSubscribe always grants the maximum QoS, applying no cap of its
// own.
func (AllowAll) AuthorizeSubscribe(clientID, topic string) int { return 2 }
