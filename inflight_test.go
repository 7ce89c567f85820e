// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 J. Blake / mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func inflightPacket(id uint16, created int64, counter uint64) *QosPacket {
	return &QosPacket{
		Envelope: Envelope{
			MessageID:     id,
			Created:       created,
			BrokerCounter: counter,
		},
	}
}

func TestInflightSet(t *testing.T) {
	i := NewInflights()

	require.True(t, i.Set(inflightPacket(1, 0, 1)))
	require.NotNil(t, i.internal[1])

	require.False(t, i.Set(inflightPacket(1, 0, 2)))
	require.Equal(t, uint64(2), i.internal[1].BrokerCounter)
}

func TestInflightGetHas(t *testing.T) {
	i := NewInflights()
	i.Set(inflightPacket(2, 0, 1))

	q, ok := i.Get(2)
	require.True(t, ok)
	require.Equal(t, uint16(2), q.MessageID)
	require.True(t, i.Has(2))

	_, ok = i.Get(3)
	require.False(t, ok)
	require.False(t, i.Has(3))
}

func TestInflightGetAllOrdered(t *testing.T) {
	i := NewInflights()
	i.Set(inflightPacket(3, 20, 5))
	i.Set(inflightPacket(1, 10, 9))
	i.Set(inflightPacket(2, 20, 4))

	all := i.GetAll()
	require.Len(t, all, 3)
	require.Equal(t, uint16(1), all[0].MessageID)
	require.Equal(t, uint16(2), all[1].MessageID)
	require.Equal(t, uint16(3), all[2].MessageID)
}

func TestInflightLen(t *testing.T) {
	i := NewInflights()
	i.Set(inflightPacket(1, 0, 1))
	i.Set(inflightPacket(2, 0, 2))
	require.Equal(t, 2, i.Len())
}

func TestInflightDelete(t *testing.T) {
	i := NewInflights()
	i.Set(inflightPacket(3, 0, 1))

	require.True(t, i.Delete(3))
	require.False(t, i.Has(3))
	require.False(t, i.Delete(3))
}

func BenchmarkInflightSet(b *testing.B) {
	i := NewInflights()
	q := inflightPacket(1, 0, 1)
	for n := 0; n < b.N; n++ {
		i.Set(q)
	}
}
