// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package auth

import (
	"testing"

	mqtt "github.com/mochi-mqtt/session"
	"github.com/stretchr/testify/require"
)

var (
	checkLedger = Ledger{
		Users: Users{ // users are allowed by default
			"mochi-co": {
				Password: "melon",
				ACL: Filters{
					"d/+/f":      Deny,
					"mochi-co/#": ReadWrite,
					"readonly":   ReadOnly,
				},
			},
			"suspended-username": {
				Password: "any",
				Disallow: true,
			},
			"mochi": { // ACL only, will defer to AuthRules for authentication
				ACL: Filters{
					"special/mochi": ReadOnly,
					"secret/mochi":  Deny,
					"ignored":       ReadWrite,
				},
			},
		},
		Auth: AuthRules{
			{Username: "banned-user"},                               // never allow specific username
			{Remote: "127.0.0.1", Allow: true},                      // always allow localhost
			{Remote: "123.123.123.123"},                             // disallow any from specific address
			{Username: "not-mochi", Remote: "111.144.155.166"},      // disallow specific username and address
			{Remote: "111.*", Allow: true},                          // allow any in wildcard (that isn't the above username)
			{Username: "mochi", Password: "melon", Allow: true},     // allow matching user/pass
			{Username: "mochi-co", Password: "melon", Allow: false}, // allow matching user/pass (should never trigger due to Users map)
		},
		ACL: ACLRules{
			{
				Username: "mochi", // allow matching user/pass
				Filters: Filters{
					"a/b/c":     Deny,
					"d/+/f":     Deny,
					"mochi/#":   ReadWrite,
					"updates/#": WriteOnly,
					"readonly":  ReadOnly,
					"ignored":   Deny,
				},
			},
			{Remote: "localhost", Filters: Filters{"$SYS/#": ReadOnly}}, // allow $SYS access to localhost
			{Username: "admin", Filters: Filters{"$SYS/#": ReadOnly}},   // allow $SYS access to admin
			{Remote: "001.002.003.004"},                                 // Allow all with no filter
			{Filters: Filters{"$SYS/#": Deny}},                          // Deny $SYS access to all others
		},
	}
)

func TestRStringMatches(t *testing.T) {
	require.True(t, RString("*").Matches("any"))
	require.True(t, RString("*").Matches(""))
	require.True(t, RString("").Matches("any"))
	require.True(t, RString("").Matches(""))
	require.True(t, RString("192.168.*").Matches("192.168.1.20"))
	require.False(t, RString("192.168.*").Matches("192.168."))
	require.False(t, RString("192.168.*").Matches("10.0.0.1"))
	require.False(t, RString("no").Matches("any"))
	require.False(t, RString("no").Matches(""))
}

func TestRStringFilterMatches(t *testing.T) {
	require.True(t, RString("a/+/c").FilterMatches("a/b/c"))
	require.True(t, RString("updates/#").FilterMatches("updates/a/b"))
	require.True(t, RString("updates/#").FilterMatches("updates"))
	require.True(t, RString("$SYS/#").FilterMatches("$SYS/broker/uptime"))
	require.False(t, RString("#").FilterMatches("$SYS/broker/uptime"))
	require.False(t, RString("+/broker").FilterMatches("$SYS/broker"))
	require.False(t, RString("a/+").FilterMatches("a/b/c"))
	require.False(t, RString("t").FilterMatches("t2"))
}

func TestIdentityOf(t *testing.T) {
	cl := &mqtt.Client{
		ID: "zen",
		Properties: mqtt.ClientProperties{
			Username: []byte("mochi"),
		},
		Net: mqtt.ClientConnection{
			Remote: "10.0.0.1:4000",
		},
	}

	require.Equal(t, Identity{Client: "zen", Username: "mochi", Remote: "10.0.0.1:4000"}, IdentityOf(cl))
}

func TestAccessAllows(t *testing.T) {
	require.False(t, Deny.Allows(true))
	require.False(t, Deny.Allows(false))
	require.True(t, ReadOnly.Allows(false))
	require.False(t, ReadOnly.Allows(true))
	require.True(t, WriteOnly.Allows(true))
	require.False(t, WriteOnly.Allows(false))
	require.True(t, ReadWrite.Allows(true))
	require.True(t, ReadWrite.Allows(false))
}

func TestCanAuthenticate(t *testing.T) {
	tt := []struct {
		desc     string
		id       Identity
		password string
		n        int
		ok       bool
	}{
		{
			desc: "allow all local 127.0.0.1",
			id:   Identity{Username: "mochi", Remote: "127.0.0.1"},
			ok:   true,
			n:    1,
		},
		{
			desc:     "allow username/password",
			id:       Identity{Username: "mochi"},
			password: "melon",
			ok:       true,
			n:        5,
		},
		{
			desc:     "deny username/password",
			id:       Identity{Username: "mochi"},
			password: "bad-pass",
		},
		{
			desc:     "allow all local 127.0.0.1 with bad password",
			id:       Identity{Username: "mochi", Remote: "127.0.0.1"},
			password: "bad-pass",
			ok:       true,
			n:        1,
		},
		{
			desc: "deny client from address",
			id:   Identity{Username: "not-mochi", Remote: "111.144.155.166"},
			n:    3,
		},
		{
			desc: "allow remote wildcard",
			id:   Identity{Username: "mochi", Remote: "111.0.0.1"},
			ok:   true,
			n:    4,
		},
		{
			desc: "never allow username",
			id:   Identity{Username: "banned-user", Remote: "127.0.0.1"},
		},
		{
			desc:     "matching user in users",
			id:       Identity{Username: "mochi-co"},
			password: "melon",
			ok:       true,
		},
		{
			desc:     "never user in users",
			id:       Identity{Username: "suspended-user"},
			password: "any",
		},
		{
			desc:     "disallowed user in users",
			id:       Identity{Username: "suspended-username", Remote: "127.0.0.1"},
			password: "any",
		},
	}

	for _, d := range tt {
		t.Run(d.desc, func(t *testing.T) {
			n, ok := checkLedger.AuthOk(d.id, []byte(d.password))
			require.Equal(t, d.n, n)
			require.Equal(t, d.ok, ok)
		})
	}
}

func TestCanACL(t *testing.T) {
	mochi := Identity{Username: "mochi"}

	tt := []struct {
		desc  string
		id    Identity
		topic string
		n     int
		write bool
		ok    bool
	}{
		{desc: "allow normal write on any other filter", topic: "default/acl/write/access", write: true, ok: true},
		{desc: "allow normal read on any other filter", topic: "default/acl/read/access", ok: true},
		{desc: "deny user on literal filter", id: mochi, topic: "a/b/c"},
		{desc: "deny user on partial filter", id: mochi, topic: "d/j/f"},
		{desc: "allow read/write to user path", id: mochi, topic: "mochi/read/write", write: true, ok: true},
		{desc: "deny read on write-only path", id: mochi, topic: "updates/no/reading"},
		{desc: "deny read on write-only path ext", id: mochi, topic: "updates/mochi"},
		{desc: "deny read on parent of write-only path", id: mochi, topic: "updates"},
		{desc: "allow read on unrelated sibling path", id: mochi, topic: "updatesx", ok: true},
		{desc: "allow write on write-only path", id: mochi, topic: "updates/mochi", write: true, ok: true},
		{desc: "deny write on read-only path", id: mochi, topic: "readonly", write: true},
		{desc: "allow read on read-only path", id: mochi, topic: "readonly", ok: true},
		{desc: "allow $sys access to localhost", id: Identity{Remote: "localhost"}, topic: "$SYS/test", ok: true, n: 1},
		{desc: "allow $sys access to admin", id: Identity{Username: "admin"}, topic: "$SYS/test", ok: true, n: 2},
		{desc: "deny $sys access to all others", id: mochi, topic: "$SYS/test", n: 4},
		{desc: "allow all with no filter", id: Identity{Remote: "001.002.003.004"}, topic: "any/path", write: true, ok: true, n: 3},
		{desc: "use users embedded acl deny", id: mochi, topic: "secret/mochi", write: true},
		{desc: "use users embedded acl any", id: mochi, topic: "any/mochi", write: true, ok: true},
		{desc: "use users embedded acl write on read-only", id: mochi, topic: "special/mochi", write: true},
		{desc: "use users embedded acl read on read-only", id: mochi, topic: "special/mochi", ok: true},
		{desc: "preference users embedded acl", id: mochi, topic: "ignored", write: true, ok: true},
	}

	for _, d := range tt {
		t.Run(d.desc, func(t *testing.T) {
			n, ok := checkLedger.ACLOk(d.id, d.topic, d.write)
			require.Equal(t, d.n, n)
			require.Equal(t, d.ok, ok)
		})
	}
}

var (
	ledgerStruct = Ledger{
		Users: Users{
			"mochi": {
				Password: "peach",
				ACL: Filters{
					"readonly": ReadOnly,
					"deny":     Deny,
				},
			},
		},
		Auth: AuthRules{
			{
				Client:   "*",
				Username: "mochi-co",
				Password: "melon",
				Remote:   "192.168.1.*",
				Allow:    true,
			},
		},
		ACL: ACLRules{
			{
				Client:   "*",
				Username: "mochi-co",
				Remote:   "127.*",
				Filters: Filters{
					"readonly":  ReadOnly,
					"writeonly": WriteOnly,
					"readwrite": ReadWrite,
					"deny":      Deny,
				},
			},
		},
	}

	ledgerJSON = []byte(`{"users":{"mochi":{"password":"peach","acl":{"deny":0,"readonly":1}}},"auth":[{"client":"*","username":"mochi-co","remote":"192.168.1.*","password":"melon","allow":true}],"acl":[{"client":"*","username":"mochi-co","remote":"127.*","filters":{"deny":0,"readonly":1,"readwrite":3,"writeonly":2}}]}`)
	ledgerYAML = []byte(`users:
    mochi:
        password: peach
        acl:
            deny: 0
            readonly: 1
auth:
    - client: '*'
      username: mochi-co
      remote: 192.168.1.*
      password: melon
      allow: true
acl:
    - client: '*'
      username: mochi-co
      remote: 127.*
      filters:
        deny: 0
        readonly: 1
        readwrite: 3
        writeonly: 2
`)
)


func TestLedgerUpdate(t *testing.T) {
	old := &Ledger{
		Auth: AuthRules{
			{Remote: "127.0.0.1", Allow: true},
		},
	}

	n := &Ledger{
		Users: Users{
			"mochi": {Password: "peach"},
		},
		Auth: AuthRules{
			{Remote: "127.0.0.1", Allow: true},
			{Remote: "192.168.*", Allow: true},
		},
		ACL: ACLRules{
			{Filters: Filters{"$SYS/#": Deny}},
		},
	}

	old.Update(n)
	require.Len(t, old.Auth, 2)
	require.Equal(t, RString("192.168.*"), old.Auth[1].Remote)
	require.Equal(t, RString("peach"), old.Users["mochi"].Password)
	require.Len(t, old.ACL, 1)
	require.NotSame(t, n, old)

	_, ok := old.AuthOk(Identity{Remote: "192.168.4.4"}, nil)
	require.True(t, ok)
}

func TestLedgerToJSON(t *testing.T) {
	data, err := ledgerStruct.ToJSON()
	require.NoError(t, err)
	require.Equal(t, ledgerJSON, data)
}

func TestLedgerToYAML(t *testing.T) {
	data, err := ledgerStruct.ToYAML()
	require.NoError(t, err)
	require.Equal(t, ledgerYAML, data)
}

func TestLedgerUnmarshalFromYAML(t *testing.T) {
	l := new(Ledger)
	err := l.Unmarshal(ledgerYAML)
	require.NoError(t, err)
	require.Equal(t, ledgerStruct.Users, l.Users)
	require.Equal(t, ledgerStruct.Auth, l.Auth)
	require.Equal(t, ledgerStruct.ACL, l.ACL)
}

func TestLedgerUnmarshalFromJSON(t *testing.T) {
	l := new(Ledger)
	err := l.Unmarshal(ledgerJSON)
	require.NoError(t, err)
	require.Equal(t, ledgerStruct.Users, l.Users)
	require.Equal(t, ledgerStruct.Auth, l.Auth)
	require.Equal(t, ledgerStruct.ACL, l.ACL)
}

func TestLedgerUnmarshalInvalid(t *testing.T) {
	l := new(Ledger)
	require.Error(t, l.Unmarshal([]byte("{not json")))
	require.Error(t, l.Unmarshal([]byte("auth: [unterminated")))
}

func TestLedgerUnmarshalNil(t *testing.T) {
	l := new(Ledger)
	err := l.Unmarshal([]byte{})
	require.NoError(t, err)
	require.Nil(t, l.Users)
	require.Nil(t, l.Auth)
	require.Nil(t, l.ACL)
}
