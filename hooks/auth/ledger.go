// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package auth

import (
	"encoding/json"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	mqtt "github.com/mochi-mqtt/session"
)

const (
	Deny      Access = iota // user cannot access the topic
	ReadOnly                // user can only subscribe to the topic
	WriteOnly               // user can only publish to the topic
	ReadWrite               // user can both publish and subscribe to the topic
)

// Access determines the read/write privileges for an ACL rule.
type Access byte

// Allows reports whether the access level permits a publish (write) or a
// subscribe or delivery (read).
func (a Access) Allows(write bool) bool {
	if write {
		return a == WriteOnly || a == ReadWrite
	}
	return a == ReadOnly || a == ReadWrite
}

// Identity is what the ledger knows about a client when checking a rule.
type Identity struct {
	Client   string // the client identifier
	Username string
	Remote   string // the remote address of the connection
}

// IdentityOf returns the identity of a session.
func IdentityOf(cl *mqtt.Client) Identity {
	return Identity{
		Client:   cl.ID,
		Username: string(cl.Properties.Username),
		Remote:   cl.Net.Remote,
	}
}

// Users contains a map of access rules for specific users, keyed on username.
type Users map[string]UserRule

// UserRule defines a set of access rules for a specific user.
type UserRule struct {
	Username RString `json:"username,omitempty" yaml:"username,omitempty"` // the username of a user
	Password RString `json:"password,omitempty" yaml:"password,omitempty"` // the password of a user
	ACL      Filters `json:"acl,omitempty" yaml:"acl,omitempty"`           // filters to match, if desired
	Disallow bool    `json:"disallow,omitempty" yaml:"disallow,omitempty"` // allow or disallow the user
}

// AuthRules defines generic access rules applicable to all users.
type AuthRules []AuthRule

// AuthRule allows or refuses the connections it matches.
type AuthRule struct {
	Client   RString `json:"client,omitempty" yaml:"client,omitempty"`     // the id of a connecting client
	Username RString `json:"username,omitempty" yaml:"username,omitempty"` // the username of a user
	Remote   RString `json:"remote,omitempty" yaml:"remote,omitempty"`     // remote address or
	Password RString `json:"password,omitempty" yaml:"password,omitempty"` // the password of a user
	Allow    bool    `json:"allow,omitempty" yaml:"allow,omitempty"`       // allow or disallow the users
}

func (r AuthRule) matches(id Identity, password []byte) bool {
	return r.Client.Matches(id.Client) &&
		r.Username.Matches(id.Username) &&
		r.Password.Matches(string(password)) &&
		r.Remote.Matches(id.Remote)
}

// ACLRules defines generic topic or filter access rules applicable to all users.
type ACLRules []ACLRule

// ACLRule defines access rules for a specific topic or filter.
type ACLRule struct {
	Client   RString `json:"client,omitempty" yaml:"client,omitempty"`     // the id of a connecting client
	Username RString `json:"username,omitempty" yaml:"username,omitempty"` // the username of a user
	Remote   RString `json:"remote,omitempty" yaml:"remote,omitempty"`     // remote address or
	Filters  Filters `json:"filters,omitempty" yaml:"filters,omitempty"`   // filters to match
}

func (r ACLRule) matches(id Identity) bool {
	return r.Client.Matches(id.Client) &&
		r.Username.Matches(id.Username) &&
		r.Remote.Matches(id.Remote)
}

// Filters is a map of Access rules keyed on filter.
type Filters map[RString]Access

// RString is a rule value string.
type RString string

// Matches returns true if the rule matches a given string. An empty rule or
// "*" matches anything, and a trailing "*" matches any suffix.
func (r RString) Matches(a string) bool {
	rr := string(r)
	if r == "" || r == "*" || a == rr {
		return true
	}

	i := strings.Index(rr, "*")
	return i > 0 && len(a) > i && rr[:i] == a[:i]
}

// FilterMatches returns true if the rule, read as a topic filter, matches the
// topic. $ topics are not matched by a leading wildcard.
func (r RString) FilterMatches(topic string) bool {
	return mqtt.MatchFilter(string(r), topic)
}

// Ledger is an auth ledger containing access rules for users and topics.
// It may be replaced with Update while sessions are checked against it.
type Ledger struct {
	mu    sync.RWMutex
	Users Users     `json:"users" yaml:"users"`
	Auth  AuthRules `json:"auth" yaml:"auth"`
	ACL   ACLRules  `json:"acl" yaml:"acl"`
}

// Update replaces the rules of the ledger with those of ln.
func (l *Ledger) Update(ln *Ledger) {
	ln.mu.RLock()
	users, authRules, acl := ln.Users, ln.Auth, ln.ACL
	ln.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.Users = users
	l.Auth = authRules
	l.ACL = acl
}

// AuthOk returns true if the rules allow the identity to connect with the
// password, and the index of the deciding auth rule. A matching entry in
// Users takes precedence over the auth rules.
func (l *Ledger) AuthOk(id Identity, password []byte) (n int, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if u, ok := l.Users[id.Username]; ok && u.Password != "" && u.Password == RString(password) {
		return 0, !u.Disallow
	}

	for n, rule := range l.Auth {
		if rule.matches(id, password) {
			return n, rule.Allow
		}
	}

	return 0, false
}

// ACLOk returns true if the rules allow the identity to publish to (write)
// or receive from (read) the topic, and the index of the deciding acl rule.
// A filter in the ACL of a matching entry in Users takes precedence. Topics
// no rule mentions are allowed.
func (l *Ledger) ACLOk(id Identity, topic string, write bool) (n int, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if u, ok := l.Users[id.Username]; ok {
		for filter, access := range u.ACL {
			if filter.FilterMatches(topic) {
				return 0, access.Allows(write)
			}
		}
	}

	for n, rule := range l.ACL {
		if !rule.matches(id) {
			continue
		}

		if len(rule.Filters) == 0 {
			return n, true
		}

		for filter, access := range rule.Filters {
			if access.Allows(write) && filter.FilterMatches(topic) {
				return n, true
			}
		}

		for filter := range rule.Filters {
			if filter.FilterMatches(topic) {
				return n, false
			}
		}
	}

	return 0, true
}

// ToJSON encodes the values into a JSON string.
func (l *Ledger) ToJSON() (data []byte, err error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return json.Marshal(l)
}

// ToYAML encodes the values into a YAML string.
func (l *Ledger) ToYAML() (data []byte, err error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return yaml.Marshal(l)
}

// Unmarshal decodes a JSON or YAML string (such as a rule config from a file) into a struct.
func (l *Ledger) Unmarshal(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(data) == 0 {
		return nil
	}

	if data[0] == '{' {
		return json.Unmarshal(data, l)
	}

	return yaml.Unmarshal(data, l)
}
