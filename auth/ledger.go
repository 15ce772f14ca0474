// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package auth

import (
	"encoding/json"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	Deny      Access = iota // user cannot access the topic
	ReadOnly                // user can only subscribe to the topic
	WriteOnly               // user can only publish to the topic
	ReadWrite               // user can both publish and subscribe to the topic
)

// Access determines the read/write privileges for an ACL rule.
type Access byte

// Users contains a map of access rules for specific users, keyed on username.
type Users map[string]UserRule

// UserRule defines a set of access rules for a specific user.
type UserRule struct {
	Username RString `json:"username,omitempty" yaml:"username,omitempty"`
	Password RString `json:"password,omitempty" yaml:"password,omitempty"`
	ACL      Filters `json:"acl,omitempty" yaml:"acl,omitempty"`
	Disallow bool    `json:"disallow,omitempty" yaml:"disallow,omitempty"`
}

// AuthRules defines generic access rules applicable to all users.
type AuthRules []AuthRule

type AuthRule struct {
	Client   RString `json:"client,omitempty" yaml:"client,omitempty"`
	Username RString `json:"username,omitempty" yaml:"username,omitempty"`
	Password RString `json:"password,omitempty" yaml:"password,omitempty"`
	Allow    bool    `json:"allow,omitempty" yaml:"allow,omitempty"`
}

// ACLRules defines generic topic or filter access rules applicable to all users.
type ACLRules []ACLRule

// ACLRule defines access rules for a specific topic or filter.
type ACLRule struct {
	Client   RString `json:"client,omitempty" yaml:"client,omitempty"`
	Username RString `json:"username,omitempty" yaml:"username,omitempty"`
	Filters  Filters `json:"filters,omitempty" yaml:"filters,omitempty"`
}

// Filters is a map of Access rules keyed on filter.
type Filters map[RString]Access

// RString is a rule value string supporting a single trailing '*' wildcard.
type RString string

// Matches returns true if the rule matches a given string.
func (r RString) Matches(a string) bool {
	rr := string(r)
	if r == "" || r == "*" || a == rr {
		return true
	}

	i := strings.Index(rr, "*")
	if i > 0 && len(a) > i && strings.Compare(rr[:i], a[:i]) == 0 {
		return true
	}

	return false
}

// FilterMatches returns true if a filter matches a topic rule.
func (r RString) FilterMatches(a string) bool {
	_, ok := MatchTopic(string(r), a)
	return ok
}

// MatchTopic checks if a given topic matches a filter, accounting for filter
// wildcards. Eg. filter a/b/+/c == topic a/b/d/c.
func MatchTopic(filter string, topic string) (elements []string, matched bool) {
	filterParts := strings.Split(filter, "/")
	topicParts := strings.Split(topic, "/")

	elements = make([]string, 0)
	for i := 0; i < len(filterParts); i++ {
		if i >= len(topicParts) {
			matched = false
			return
		}

		if filterParts[i] == "+" {
			elements = append(elements, topicParts[i])
			continue
		}

		if filterParts[i] == "#" {
			matched = true
			elements = append(elements, strings.Join(topicParts[i:], "/"))
			return
		}

		if filterParts[i] != topicParts[i] {
			matched = false
			return
		}
	}

	return elements, true
}

// Ledger is an auth ledger containing access rules for users and topics.
type Ledger struct {
	sync.Mutex `json:"-" yaml:"-"`
	Users      Users     `json:"users" yaml:"users"`
	Auth       AuthRules `json:"auth" yaml:"auth"`
	ACL        ACLRules  `json:"acl" yaml:"acl"`
}

// Update replaces the ledger's rules atomically.
func (l *Ledger) Update(ln *Ledger) {
	l.Lock()
	defer l.Unlock()
	l.Users = ln.Users
	l.Auth = ln.Auth
	l.ACL = ln.ACL
}

// AuthOk returns true if the rules indicate the client may authenticate.
func (l *Ledger) AuthOk(clientID, username, password string) bool {
	l.Lock()
	defer l.Unlock()

	if l.Users != nil {
		if u, ok := l.Users[username]; ok && u.Password != "" && string(u.Password) == password {
			return !u.Disallow
		}
	}

	for _, rule := range l.Auth {
		if rule.Client.Matches(clientID) &&
			rule.Username.Matches(username) &&
			rule.Password.Matches(password) {
			return rule.Allow
		}
	}

	return len(l.Auth) == 0 && l.Users == nil
}

// ACLOk returns true if the rules indicate the client is allowed to read or
// write to a specific topic, based on the `write` bool.
func (l *Ledger) ACLOk(clientID, username, topic string, write bool) bool {
	l.Lock()
	defer l.Unlock()

	if l.Users != nil {
		if u, ok := l.Users[username]; ok && len(u.ACL) > 0 {
			for filter, access := range u.ACL {
				if filter.FilterMatches(topic) {
					if !write && (access == ReadOnly || access == ReadWrite) {
						return true
					} else if write && (access == WriteOnly || access == ReadWrite) {
						return true
					}
					return false
				}
			}
		}
	}

	for _, rule := range l.ACL {
		if !rule.Client.Matches(clientID) || !rule.Username.Matches(username) {
			continue
		}

		if len(rule.Filters) == 0 {
			return true
		}

		want := ReadOnly
		if write {
			want = WriteOnly
		}

		for filter, access := range rule.Filters {
			if !filter.FilterMatches(topic) {
				continue
			}
			if access == want || access == ReadWrite {
				return true
			}
			return false
		}
	}

	return true
}

// ToJSON encodes the ledger as JSON.
func (l *Ledger) ToJSON() ([]byte, error) {
	return json.Marshal(l)
}

// ToYAML encodes the ledger as YAML.
func (l *Ledger) ToYAML() ([]byte, error) {
	return yaml.Marshal(l)
}

// Unmarshal decodes a JSON or YAML rule document into the ledger.
func (l *Ledger) Unmarshal(data []byte) error {
	l.Lock()
	defer l.Unlock()
	if len(data) == 0 {
		return nil
	}

	if data[0] == '{' {
		return json.Unmarshal(data, l)
	}

	return yaml.Unmarshal(data, l)
}
