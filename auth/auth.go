// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package auth

// Dictionary is an Auth provider backed by a Ledger of static rules, loaded
// once at startup from a YAML or JSON document (see config.go's yaml.v3
// wiring at the broker root).
type Dictionary struct {
	ledger *Ledger
}

// NewDictionary builds a Dictionary from raw YAML or JSON rule data.
func NewDictionary(data []byte) (*Dictionary, error) {
	l := &Ledger{Auth: AuthRules{}, ACL: ACLRules{}}
	if err := l.Unmarshal(data); err != nil {
		return nil, err
	}
	return &Dictionary{ledger: l}, nil
}

// NewDictionaryFromLedger wraps an already-parsed Ledger, for rules built in
// code rather than loaded from YAML.
func NewDictionaryFromLedger(l *Ledger) *Dictionary {
	return &Dictionary{ledger: l}
}

// Reload atomically replaces the ledger's rule set.
func (d *Dictionary) Reload(l *Ledger) {
	d.ledger.Update(l)
}

// Authenticate checks clientID/username/password against the ledger.
func (d *Dictionary) Authenticate(clientID, username string, password []byte) bool {
	return d.ledger.AuthOk(clientID, username, string(password))
}

// AuthorizePublish checks write access to topic in the ledger.
func (d *Dictionary) AuthorizePublish(clientID, topic string) bool {
	return d.ledger.ACLOk(clientID, "", topic, true)
}

// AuthorizeSubscribe checks read access to topic in the ledger, granting
// the maximum QoS (no cap of its own) when allowed and refusing (-1)
// otherwise.
func (d *Dictionary) AuthorizeSubscribe(clientID, topic string) int {
	if d.ledger.ACLOk(clientID, "", topic, false) {
		return 2
	}
	return -1
}

// Callback is an Auth provider that delegates every decision to
// caller-supplied functions, for embedding applications that want to check
// credentials against their own store (a database, an identity service)
// without writing a Ledger document.
type Callback struct {
	AuthenticateFn     func(clientID, username string, password []byte) bool
	AuthorizePublishFn func(clientID, topic string) bool
	// AuthorizeSubFn returns the granted QoS (0-2) or -1 to refuse.
	AuthorizeSubFn func(clientID, topic string) int
}

// Authenticate calls AuthenticateFn, defaulting to allow if unset.
func (c *Callback) Authenticate(clientID, username string, password []byte) bool {
	if c.AuthenticateFn == nil {
		return true
	}
	return c.AuthenticateFn(clientID, username, password)
}

// AuthorizePublish calls AuthorizePublishFn, defaulting to allow if unset.
func (c *Callback) AuthorizePublish(clientID, topic string) bool {
	if c.AuthorizePublishFn == nil {
		return true
	}
	return c.AuthorizePublishFn(clientID, topic)
}

// AuthorizeSubscribe calls AuthorizeSubFn, defaulting to an uncapped grant
// if unset.
func (c *Callback) AuthorizeSubscribe(clientID, topic string) int {
	if c.AuthorizeSubFn == nil {
		return 2
	}
	return c.AuthorizeSubFn(clientID, topic)
}
