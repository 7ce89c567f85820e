// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClient(t testing.TB, s *Server, id, listener string) *Client {
	cl := newClient(nil, s, listener)
	cl.ID = id
	return cl
}

func TestNewClients(t *testing.T) {
	cl := NewClients()
	require.NotNil(t, cl.internal)
	require.Equal(t, 0, cl.Len())
}

func TestClientsAdd(t *testing.T) {
	s := newServer(t, nil)
	clients := NewClients()
	a := newTestClient(t, s, "c1", "t1")

	old, ok := clients.Add(a)
	require.False(t, ok)
	require.Nil(t, old)

	// adding the same session again does not report a predecessor
	_, ok = clients.Add(a)
	require.False(t, ok)

	b := newTestClient(t, s, "c1", "t1")
	old, ok = clients.Add(b)
	require.True(t, ok)
	require.Same(t, a, old)

	got, ok := clients.Get("c1")
	require.True(t, ok)
	require.Same(t, b, got)
	require.Equal(t, 1, clients.Len())
}

func TestClientsGetAll(t *testing.T) {
	s := newServer(t, nil)
	clients := NewClients()
	clients.Add(newTestClient(t, s, "c1", "t1"))
	clients.Add(newTestClient(t, s, "c2", "t1"))

	all := clients.GetAll()
	require.Len(t, all, 2)
	require.Contains(t, all, "c1")
	require.Contains(t, all, "c2")

	delete(all, "c1")
	require.Equal(t, 2, clients.Len())
}

func TestClientsDeleteOnlyMatching(t *testing.T) {
	s := newServer(t, nil)
	clients := NewClients()
	a := newTestClient(t, s, "c1", "t1")
	b := newTestClient(t, s, "c1", "t1")

	clients.Add(a)
	clients.Add(b)

	require.False(t, clients.Delete("c1", a))
	require.Equal(t, 1, clients.Len())

	require.True(t, clients.Delete("c1", b))
	require.Equal(t, 0, clients.Len())
	require.False(t, clients.Delete("c1", b))
}

func TestClientsGetByListener(t *testing.T) {
	s := newServer(t, nil)
	clients := NewClients()
	clients.Add(newTestClient(t, s, "c1", "t1"))
	clients.Add(newTestClient(t, s, "c2", "t2"))

	closing := newTestClient(t, s, "c3", "t1")
	closing.setState(StateClosing)
	clients.Add(closing)

	got := clients.GetByListener("t1")
	require.Len(t, got, 1)
	require.Equal(t, "c1", got[0].ID)
	require.Empty(t, clients.GetByListener("t3"))
}

func BenchmarkClientsAdd(b *testing.B) {
	s := New(&Options{Logger: logger})
	clients := NewClients()
	cl := newClient(nil, s, "t1")
	cl.ID = "c1"
	for n := 0; n < b.N; n++ {
		clients.Add(cl)
	}
}

func BenchmarkClientsGet(b *testing.B) {
	s := New(&Options{Logger: logger})
	clients := NewClients()
	cl := newClient(nil, s, "t1")
	cl.ID = "c1"
	clients.Add(cl)
	for n := 0; n < b.N; n++ {
		clients.Get("c1")
	}
}
