// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

// Duplicates records, per origin broker, the highest counter forwarded to a
// client. It is only touched from the owning client's loop.
type Duplicates map[string]uint64

// ShouldForward reports whether env is newer than anything already forwarded
// from the same origin broker, recording its counter if so. Locally
// originated envelopes are always forwarded.
func (d Duplicates) ShouldForward(env Envelope) bool {
	if !env.Relayed || env.BrokerID == "" {
		return true
	}

	if env.BrokerCounter <= d[env.BrokerID] {
		return false
	}

	d[env.BrokerID] = env.BrokerCounter
	return true
}
