// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"errors"
	"sync/atomic"

	"github.com/mochi-mqtt/session/packets"
)

// ingester feeds bytes from the transport through the streaming parser and
// limits how far decoding may run ahead of packet handling. The transport is
// only read when every decoded packet has been handled and the session is not
// paused. All methods run on the client loop.
type ingester struct {
	cl           *Client
	parser       *packets.Parser
	pulls        chan struct{}    // one token per read the reader may perform
	deferred     []packets.Packet // packets decoded before the CONNACK was sent
	held         [][]byte         // chunks read while paused, parsed on resume
	pendingBatch int              // decoded packets not yet handled
	reading      bool             // a read has been granted and not returned
	paused       bool
	detached     bool
}

func newIngester(cl *Client, p *packets.Parser) *ingester {
	return &ingester{
		cl:     cl,
		parser: p,
		pulls:  make(chan struct{}, 1),
	}
}

// pull grants the reader one read, unless the session is paused, a read is
// already outstanding, or ingestion has been detached.
func (in *ingester) pull() {
	if in.detached || in.paused || in.reading {
		return
	}

	in.reading = true
	in.pulls <- struct{}{}
}

// onChunk handles bytes returned by a read.
func (in *ingester) onChunk(b []byte) {
	in.reading = false
	if in.detached {
		return
	}

	in.cl.refreshKeepalive()
	atomic.AddInt64(&in.cl.server.Info.BytesReceived, int64(len(b)))

	if in.paused {
		if len(b) > 0 {
			in.held = append(in.held, b)
		}
		return
	}

	in.parse(b)
	if in.pendingBatch == 0 {
		in.pull()
	}
}

// parse feeds b to the parser, which calls onPacket for each packet it completes.
func (in *ingester) parse(b []byte) {
	if len(b) == 0 {
		return
	}

	if err := in.parser.Parse(b, in.onPacket); err != nil && !in.detached {
		in.cl.onError(newSessionError(KindProtocol, "parse", err))
	}
}

// onPacket counts a decoded packet and handles it now if the session is
// connected or it is the first packet, otherwise keeps it until the CONNACK
// has been sent.
func (in *ingester) onPacket(pk packets.Packet) {
	if in.detached {
		return
	}

	in.pendingBatch++
	if in.cl.State() == StateConnected || in.pendingBatch == 1 {
		in.dispatch(pk)
		return
	}

	in.deferred = append(in.deferred, pk)
}

// onConnected handles the packets which arrived behind the CONNECT.
func (in *ingester) onConnected() {
	deferred := in.deferred
	in.deferred = nil
	for _, pk := range deferred {
		if in.detached {
			return
		}
		in.dispatch(pk)
	}
}

// dispatch hands a packet to the packet handler.
func (in *ingester) dispatch(pk packets.Packet) {
	cl := in.cl
	atomic.AddInt64(&cl.server.Info.PacketsReceived, 1)

	pkx, err := cl.ops.hooks.OnPacketRead(cl, pk)
	if err != nil {
		if errors.Is(err, ErrRejectPacket) {
			in.nextBatch(nil)
			return
		}
		in.nextBatch(newSessionError(KindProtocol, "packet read", err))
		return
	}

	cl.handler.Handle(cl, pkx, func(err error) {
		cl.ops.hooks.OnPacketProcessed(cl, pkx, err)
		in.nextBatch(newSessionError(KindProtocol, packets.Names[pkx.FixedHeader.Type], err))
	})
}

// nextBatch completes one handled packet. When no packet is left in flight
// the transport is read again, unless the session is paused.
func (in *ingester) nextBatch(err error) {
	if err != nil {
		in.cl.onError(err)
		return
	}

	if in.detached {
		return
	}

	in.pendingBatch--
	if in.pendingBatch < 0 {
		in.pendingBatch = 0
	}

	if in.pendingBatch == 0 {
		in.pull()
	}
}

// pause stops further reads.
func (in *ingester) pause() {
	in.paused = true
}

// resume parses any chunks read while paused and reads again straight away,
// whatever the number of packets in flight.
func (in *ingester) resume() {
	if !in.paused {
		return
	}
	in.paused = false

	held := in.held
	in.held = nil
	for _, b := range held {
		if in.detached || in.paused {
			in.held = append(in.held, b)
			continue
		}
		in.parse(b)
	}

	in.pull()
}

// detach stops all further ingestion.
func (in *ingester) detach() {
	if in.detached {
		return
	}

	in.detached = true
	in.deferred = nil
	in.held = nil
	close(in.pulls)
}
