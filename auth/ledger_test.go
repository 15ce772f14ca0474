// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLedgerAuthOkWithNoRulesAllowsEverything(t *testing.T) {
	l := &Ledger{}
	require.True(t, l.AuthOk("cl1", "alice", "secret"))
}

func TestLedgerAuthOkChecksUserPassword(t *testing.T) {
	l := &Ledger{Users: Users{
		"alice": {Password: "secret"},
	}}

	require.True(t, l.AuthOk("cl1", "alice", "secret"))
	require.False(t, l.AuthOk("cl1", "alice", "wrong"))
}

func TestLedgerAuthOkHonoursDisallow(t *testing.T) {
	l := &Ledger{Users: Users{
		"alice": {Password: "secret", Disallow: true},
	}}
	require.False(t, l.AuthOk("cl1", "alice", "secret"))
}

func TestLedgerAuthOkFallsThroughToAuthRules(t *testing.T) {
	l := &Ledger{
		Users: Users{"alice": {Password: "secret"}},
		Auth: AuthRules{
			{Client: "dev-*", Allow: true},
		},
	}

	require.True(t, l.AuthOk("dev-123", "bob", "whatever"))
	require.False(t, l.AuthOk("other", "bob", "whatever"))
}

func TestLedgerACLOkWithNoRulesAllowsEverything(t *testing.T) {
	l := &Ledger{}
	require.True(t, l.ACLOk("cl1", "", "a/b", true))
	require.True(t, l.ACLOk("cl1", "", "a/b", false))
}

func TestLedgerACLOkGenericReadOnlyRule(t *testing.T) {
	l := &Ledger{
		ACL: ACLRules{
			{Filters: Filters{"a/#": ReadOnly}},
		},
	}

	require.True(t, l.ACLOk("cl1", "", "a/b", false))
	require.False(t, l.ACLOk("cl1", "", "a/b", true))
}

func TestLedgerACLOkPerUserRule(t *testing.T) {
	l := &Ledger{
		Users: Users{
			"alice": {ACL: Filters{"a/#": ReadWrite}},
		},
	}

	require.True(t, l.ACLOk("cl1", "alice", "a/b", true))
	require.True(t, l.ACLOk("cl1", "alice", "a/b", false))
}

func TestRStringMatchesWildcard(t *testing.T) {
	r := RString("dev-*")
	require.True(t, r.Matches("dev-123"))
	require.False(t, r.Matches("prod-123"))
	require.True(t, RString("").Matches("anything"))
}

func TestMatchTopicWildcards(t *testing.T) {
	_, ok := MatchTopic("a/+/c", "a/b/c")
	require.True(t, ok)

	_, ok = MatchTopic("a/#", "a/b/c/d")
	require.True(t, ok)

	_, ok = MatchTopic("a/b", "a/c")
	require.False(t, ok)
}

func TestLedgerToYAMLAndUnmarshalRoundTrip(t *testing.T) {
	l := &Ledger{Users: Users{"alice": {Password: "secret"}}}
	data, err := l.ToYAML()
	require.NoError(t, err)

	got := new(Ledger)
	require.NoError(t, got.Unmarshal(data))
	require.Equal(t, RString("secret"), got.Users["alice"].Password)
}
