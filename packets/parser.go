// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

import (
	"time"
)

// Parser is a streaming packet decoder. Bytes may be fed in chunks of any
// size; every complete packet is emitted in wire order as soon as its final
// byte arrives. Once a decode error has occurred the parser is unusable and
// keeps returning the same error.
type Parser struct {
	buf               []byte
	err               error
	maximumPacketSize int
	protocolVersion   byte
}

// NewParser returns a parser which rejects packets larger than maximumSize
// bytes. A maximumSize of 0 means unlimited.
func NewParser(maximumSize int) *Parser {
	return &Parser{
		maximumPacketSize: maximumSize,
	}
}

// SetProtocolVersion sets the protocol version stamped on emitted packets.
func (p *Parser) SetProtocolVersion(v byte) {
	p.protocolVersion = v
}

// Err returns the error which stopped the parser, if any.
func (p *Parser) Err() error {
	return p.err
}

// Buffered returns the number of bytes held awaiting the rest of a packet.
func (p *Parser) Buffered() int {
	return len(p.buf)
}

// Parse appends b to any bytes held from earlier calls and calls emit for
// each complete packet. emit is called synchronously and may itself cause
// further calls to Parse only after it returns.
func (p *Parser) Parse(b []byte, emit func(Packet)) error {
	if p.err != nil {
		return p.err
	}

	p.buf = append(p.buf, b...)
	consumed := 0
	for {
		rest := p.buf[consumed:]
		if len(rest) < 2 {
			break
		}

		fh := new(FixedHeader)
		if err := fh.Decode(rest[0]); err != nil {
			p.err = err
			break
		}

		rem, n, complete, err := DecodeLength(rest[1:])
		if err != nil {
			p.err = err
			break
		}

		if !complete {
			break
		}

		total := 1 + n + rem
		if p.maximumPacketSize > 0 && total > p.maximumPacketSize {
			p.err = ErrPacketTooLarge
			break
		}

		if len(rest) < total {
			break
		}

		fh.Remaining = rem
		body := make([]byte, rem)
		copy(body, rest[1+n:total])
		consumed += total

		pk := Packet{
			FixedHeader:     *fh,
			ProtocolVersion: p.protocolVersion,
			Created:         time.Now().Unix(),
		}

		if err := pk.Decode(body); err != nil {
			p.err = err
			break
		}

		emit(pk)
	}

	if p.err != nil {
		p.buf = nil
		return p.err
	}

	if consumed > 0 {
		p.buf = append(p.buf[:0:0], p.buf[consumed:]...)
	}

	return nil
}
