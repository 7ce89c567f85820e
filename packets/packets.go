// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

import (
	"bytes"
	"strings"
)

// All valid packet types and their packet identifiers.
const (
	Reserved    byte = iota // 0 - we use this in packet tests to indicate special-test or all packets.
	Connect                 // 1
	Connack                 // 2
	Publish                 // 3
	Puback                  // 4
	Pubrec                  // 5
	Pubrel                  // 6
	Pubcomp                 // 7
	Subscribe               // 8
	Suback                  // 9
	Unsubscribe             // 10
	Unsuback                // 11
	Pingreq                 // 12
	Pingresp                // 13
	Disconnect              // 14
)

const (
	// ProtocolV31 is the protocol level of MQTT 3.1 (MQIsdp).
	ProtocolV31 byte = 3

	// ProtocolV311 is the protocol level of MQTT 3.1.1.
	ProtocolV311 byte = 4
)

// Names is a map that provides human-readable names for the different
// MQTT packet types based on their ids.
var Names = map[byte]string{
	0:  "Reserved",
	1:  "Connect",
	2:  "Connack",
	3:  "Publish",
	4:  "Puback",
	5:  "Pubrec",
	6:  "Pubrel",
	7:  "Pubcomp",
	8:  "Subscribe",
	9:  "Suback",
	10: "Unsubscribe",
	11: "Unsuback",
	12: "Pingreq",
	13: "Pingresp",
	14: "Disconnect",
}

// Packet represents an MQTT packet. Instead of providing a packet interface
// variant packet structs, this is a single concrete packet type to cover all packet
// types, which allows us to take advantage of various compiler optimizations.
type Packet struct {
	Connect         ConnectParams // parameters for connect packets (just for organisation)
	Payload         []byte        // a message/payload for publish packets
	ReturnCodes     []byte        // a list of return codes for suback packets
	Filters         Subscriptions // a list of subscription filters and their qos, from subscribe and unsubscribe packets
	TopicName       string        // the topic a payload is being published to
	Origin          string        // client id of the client who is issuing the packet (mostly internal use)
	FixedHeader     FixedHeader   // -
	Created         int64         // unix timestamp indicating time packet was created/received on the server
	PacketID        uint16        // packet id for the packet (publish, qos, etc)
	ProtocolVersion byte          // protocol version of the client the packet belongs to
	SessionPresent  bool          // session existed for connack
	ReturnCode      byte          // connack return code
}

// ConnectParams contains packet values which are specifically related to connect packets.
type ConnectParams struct {
	WillPayload      []byte `json:"willPayload"`
	Password         []byte `json:"password"`
	Username         []byte `json:"username"`
	ProtocolName     []byte `json:"protocolName"`
	ClientIdentifier string `json:"clientId"`
	WillTopic        string `json:"willTopic"`
	Keepalive        uint16 `json:"keepalive"`
	PasswordFlag     bool   `json:"passwordFlag"`
	UsernameFlag     bool   `json:"usernameFlag"`
	WillQos          byte   `json:"willQos"`
	WillFlag         bool   `json:"willFlag"`
	WillRetain       bool   `json:"willRetain"`
	Clean            bool   `json:"clean"`
}

// Subscription contains details about a client subscription to a topic filter.
type Subscription struct {
	Filter string `json:"filter"`
	Qos    byte   `json:"qos"`
}

// Subscriptions is a slice of Subscription.
type Subscriptions []Subscription

// Copy creates a new instance of a packet, but with an empty header for inheriting new QoS flags, etc.
func (pk Packet) Copy(allowTransfer bool) Packet {
	p := Packet{
		FixedHeader: FixedHeader{
			Remaining: pk.FixedHeader.Remaining,
			Type:      pk.FixedHeader.Type,
			Retain:    pk.FixedHeader.Retain,
			Dup:       false,
			Qos:       pk.FixedHeader.Qos,
		},
		TopicName:       pk.TopicName,
		Origin:          pk.Origin,
		Created:         pk.Created,
		ProtocolVersion: pk.ProtocolVersion,
	}

	if allowTransfer {
		p.PacketID = pk.PacketID
	}

	if len(pk.Payload) > 0 {
		p.Payload = append([]byte{}, pk.Payload...)
	}

	if len(pk.Filters) > 0 {
		p.Filters = append(Subscriptions{}, pk.Filters...)
	}

	if len(pk.ReturnCodes) > 0 {
		p.ReturnCodes = append([]byte{}, pk.ReturnCodes...)
	}

	return p
}

// Encode encodes the packet into buf according to its fixed header type.
func (pk *Packet) Encode(buf *bytes.Buffer) error {
	switch pk.FixedHeader.Type {
	case Connect:
		return pk.ConnectEncode(buf)
	case Connack:
		return pk.ConnackEncode(buf)
	case Publish:
		return pk.PublishEncode(buf)
	case Puback, Pubrec, Pubrel, Pubcomp, Unsuback:
		return pk.ackEncode(buf)
	case Subscribe:
		return pk.SubscribeEncode(buf)
	case Suback:
		return pk.SubackEncode(buf)
	case Unsubscribe:
		return pk.UnsubscribeEncode(buf)
	case Pingreq, Pingresp, Disconnect:
		return pk.emptyEncode(buf)
	default:
		return ErrMalformedUnknownType
	}
}

// Decode decodes the remaining bytes of a packet whose fixed header has
// already been read.
func (pk *Packet) Decode(buf []byte) error {
	switch pk.FixedHeader.Type {
	case Connect:
		return pk.ConnectDecode(buf)
	case Connack:
		return pk.ConnackDecode(buf)
	case Publish:
		return pk.PublishDecode(buf)
	case Puback, Pubrec, Pubrel, Pubcomp, Unsuback:
		return pk.ackDecode(buf)
	case Subscribe:
		return pk.SubscribeDecode(buf)
	case Suback:
		return pk.SubackDecode(buf)
	case Unsubscribe:
		return pk.UnsubscribeDecode(buf)
	case Pingreq, Pingresp, Disconnect:
		if len(buf) > 0 {
			return ErrMalformedPacket
		}
		return nil
	default:
		return ErrMalformedUnknownType
	}
}

func (pk *Packet) finish(buf *bytes.Buffer, nb *bytes.Buffer) {
	pk.FixedHeader.Remaining = nb.Len()
	pk.FixedHeader.Encode(buf)
	buf.Write(nb.Bytes())
}

// ConnectEncode encodes a connect packet.
func (pk *Packet) ConnectEncode(buf *bytes.Buffer) error {
	nb := bytes.NewBuffer([]byte{})
	nb.Write(encodeBytes(pk.Connect.ProtocolName))
	nb.WriteByte(pk.ProtocolVersion)

	nb.WriteByte(
		encodeBool(pk.Connect.Clean)<<1 |
			encodeBool(pk.Connect.WillFlag)<<2 |
			pk.Connect.WillQos<<3 |
			encodeBool(pk.Connect.WillRetain)<<5 |
			encodeBool(pk.Connect.PasswordFlag)<<6 |
			encodeBool(pk.Connect.UsernameFlag)<<7 |
			0, // [MQTT-2.1.3-1]
	)

	nb.Write(encodeUint16(pk.Connect.Keepalive))
	nb.Write(encodeString(pk.Connect.ClientIdentifier))

	if pk.Connect.WillFlag {
		nb.Write(encodeString(pk.Connect.WillTopic))
		nb.Write(encodeBytes(pk.Connect.WillPayload))
	}

	if pk.Connect.UsernameFlag {
		nb.Write(encodeBytes(pk.Connect.Username))
	}

	if pk.Connect.PasswordFlag {
		nb.Write(encodeBytes(pk.Connect.Password))
	}

	pk.finish(buf, nb)
	return nil
}

// ConnectDecode decodes a connect packet.
func (pk *Packet) ConnectDecode(buf []byte) error {
	var offset int
	var err error

	pk.Connect.ProtocolName, offset, err = decodeBytes(buf, 0)
	if err != nil {
		return ErrMalformedProtocolName
	}

	pk.ProtocolVersion, offset, err = decodeByte(buf, offset)
	if err != nil {
		return ErrMalformedProtocolVersion
	}

	flags, offset, err := decodeByte(buf, offset)
	if err != nil {
		return ErrMalformedFlags
	}

	if flags&0x01 > 0 {
		return ErrProtocolViolationReservedBit // [MQTT-3.1.2-3]
	}

	pk.Connect.Clean = 1&(flags>>1) > 0
	pk.Connect.WillFlag = 1&(flags>>2) > 0
	pk.Connect.WillQos = 3 & (flags >> 3)
	pk.Connect.WillRetain = 1&(flags>>5) > 0
	pk.Connect.PasswordFlag = 1&(flags>>6) > 0
	pk.Connect.UsernameFlag = 1&(flags>>7) > 0

	pk.Connect.Keepalive, offset, err = decodeUint16(buf, offset)
	if err != nil {
		return ErrMalformedKeepalive
	}

	pk.Connect.ClientIdentifier, offset, err = decodeString(buf, offset)
	if err != nil {
		return ErrClientIdentifierNotValid // [MQTT-3.1.3-8]
	}

	if pk.Connect.WillFlag {
		pk.Connect.WillTopic, offset, err = decodeString(buf, offset)
		if err != nil {
			return ErrMalformedWillTopic
		}

		pk.Connect.WillPayload, offset, err = decodeBytes(buf, offset)
		if err != nil {
			return ErrMalformedWillPayload
		}
	}

	if pk.Connect.UsernameFlag {
		if offset >= len(buf) {
			return ErrProtocolViolationFlagNoUsername // [MQTT-3.1.2-19]
		}

		pk.Connect.Username, offset, err = decodeBytes(buf, offset)
		if err != nil {
			return ErrMalformedUsername
		}
	}

	if pk.Connect.PasswordFlag {
		if offset >= len(buf) {
			return ErrProtocolViolationFlagNoPassword // [MQTT-3.1.2-21]
		}

		pk.Connect.Password, _, err = decodeBytes(buf, offset)
		if err != nil {
			return ErrMalformedPassword
		}
	}

	return nil
}

// ConnectValidate ensures the connect packet is compliant. The returned code
// doubles as the connack return code.
func (pk *Packet) ConnectValidate() Code {
	name := string(pk.Connect.ProtocolName)
	switch {
	case name == "MQTT" && pk.ProtocolVersion == ProtocolV311:
	case name == "MQIsdp" && pk.ProtocolVersion == ProtocolV31:
		if len(pk.Connect.ClientIdentifier) > 23 {
			return ErrClientIdentifierNotValid
		}
	case name != "MQTT" && name != "MQIsdp":
		return ErrProtocolViolationProtocolName // [MQTT-3.1.2-1]
	default:
		return ErrUnsupportedProtocolVersion // [MQTT-3.1.2-2]
	}

	if pk.Connect.WillQos > 2 {
		return ErrProtocolViolationQosOutOfRange // [MQTT-3.1.2-14]
	}

	if !pk.Connect.WillFlag && (pk.Connect.WillRetain || pk.Connect.WillQos > 0) {
		return ErrProtocolViolationWillFlagSurplusRetain // [MQTT-3.1.2-13] [MQTT-3.1.2-15]
	}

	if pk.Connect.PasswordFlag && !pk.Connect.UsernameFlag && pk.ProtocolVersion == ProtocolV311 {
		return ErrProtocolViolationPasswordNoUsername // [MQTT-3.1.2-22]
	}

	return CodeSuccess
}

// ConnackEncode encodes a Connack packet.
func (pk *Packet) ConnackEncode(buf *bytes.Buffer) error {
	nb := bytes.NewBuffer([]byte{})
	nb.WriteByte(encodeBool(pk.SessionPresent))
	nb.WriteByte(pk.ReturnCode)
	pk.finish(buf, nb)
	return nil
}

// ConnackDecode decodes a Connack packet.
func (pk *Packet) ConnackDecode(buf []byte) error {
	var offset int
	var err error

	pk.SessionPresent, offset, err = decodeByteBool(buf, 0)
	if err != nil {
		return ErrMalformedSessionPresent
	}

	pk.ReturnCode, _, err = decodeByte(buf, offset)
	if err != nil {
		return ErrMalformedReturnCode
	}

	return nil
}

// PublishEncode encodes a Publish packet.
func (pk *Packet) PublishEncode(buf *bytes.Buffer) error {
	nb := bytes.NewBuffer([]byte{})
	nb.Write(encodeString(pk.TopicName)) // [MQTT-3.3.2-1]

	if pk.FixedHeader.Qos > 0 {
		if pk.PacketID == 0 {
			return ErrProtocolViolationNoPacketID // [MQTT-2.3.1-1]
		}
		nb.Write(encodeUint16(pk.PacketID))
	}

	nb.Write(pk.Payload)
	pk.finish(buf, nb)
	return nil
}

// PublishDecode extracts the data values from the packet.
func (pk *Packet) PublishDecode(buf []byte) error {
	var offset int
	var err error

	pk.TopicName, offset, err = decodeString(buf, 0)
	if err != nil {
		return ErrMalformedTopic
	}

	if pk.FixedHeader.Qos > 0 {
		pk.PacketID, offset, err = decodeUint16(buf, offset)
		if err != nil {
			return ErrMalformedPacketID
		}
	}

	pk.Payload = buf[offset:]
	return nil
}

// PublishValidate validates a publish packet.
func (pk *Packet) PublishValidate() Code {
	if pk.FixedHeader.Qos > 0 && pk.PacketID == 0 {
		return ErrProtocolViolationNoPacketID // [MQTT-2.3.1-1]
	}

	if pk.FixedHeader.Qos == 0 && pk.PacketID > 0 {
		return ErrProtocolViolation // [MQTT-2.3.1-5]
	}

	if pk.TopicName == "" {
		return ErrProtocolViolationInvalidTopic // [MQTT-4.7.3-1]
	}

	if strings.ContainsAny(pk.TopicName, "+#") {
		return ErrProtocolViolationSurplusWildcard // [MQTT-3.3.2-2]
	}

	return CodeSuccess
}

// ackEncode encodes the packets which carry only a packet identifier.
func (pk *Packet) ackEncode(buf *bytes.Buffer) error {
	nb := bytes.NewBuffer([]byte{})
	nb.Write(encodeUint16(pk.PacketID))
	pk.finish(buf, nb)
	return nil
}

// ackDecode decodes the packets which carry only a packet identifier.
func (pk *Packet) ackDecode(buf []byte) error {
	var err error
	pk.PacketID, _, err = decodeUint16(buf, 0)
	if err != nil {
		return ErrMalformedPacketID
	}
	return nil
}

// emptyEncode encodes packets which have no variable header or payload.
func (pk *Packet) emptyEncode(buf *bytes.Buffer) error {
	pk.FixedHeader.Remaining = 0
	pk.FixedHeader.Encode(buf)
	return nil
}

// SubscribeEncode encodes a subscribe packet.
func (pk *Packet) SubscribeEncode(buf *bytes.Buffer) error {
	if pk.PacketID == 0 {
		return ErrProtocolViolationNoPacketID
	}

	nb := bytes.NewBuffer([]byte{})
	nb.Write(encodeUint16(pk.PacketID))
	for _, sub := range pk.Filters {
		nb.Write(encodeString(sub.Filter))
		nb.WriteByte(sub.Qos)
	}

	pk.finish(buf, nb)
	return nil
}

// SubscribeDecode decodes a subscribe packet.
func (pk *Packet) SubscribeDecode(buf []byte) error {
	var offset int
	var err error

	pk.PacketID, offset, err = decodeUint16(buf, 0)
	if err != nil {
		return ErrMalformedPacketID
	}

	for offset < len(buf) {
		var sub Subscription
		sub.Filter, offset, err = decodeString(buf, offset)
		if err != nil {
			return ErrMalformedTopic
		}

		sub.Qos, offset, err = decodeByte(buf, offset)
		if err != nil {
			return ErrMalformedQos
		}

		if sub.Qos > 2 {
			return ErrMalformedQos // [MQTT-3.8.3-4]
		}

		pk.Filters = append(pk.Filters, sub)
	}

	return nil
}

// SubscribeValidate ensures the packet is compliant.
func (pk *Packet) SubscribeValidate() Code {
	if pk.PacketID == 0 {
		return ErrProtocolViolationNoPacketID // [MQTT-2.3.1-1]
	}

	if len(pk.Filters) == 0 {
		return ErrProtocolViolationNoFilters // [MQTT-3.8.3-3]
	}

	return CodeSuccess
}

// SubackEncode encodes a Suback packet.
func (pk *Packet) SubackEncode(buf *bytes.Buffer) error {
	nb := bytes.NewBuffer([]byte{})
	nb.Write(encodeUint16(pk.PacketID))
	nb.Write(pk.ReturnCodes)
	pk.finish(buf, nb)
	return nil
}

// SubackDecode decodes a Suback packet.
func (pk *Packet) SubackDecode(buf []byte) error {
	var offset int
	var err error

	pk.PacketID, offset, err = decodeUint16(buf, 0)
	if err != nil {
		return ErrMalformedPacketID
	}

	pk.ReturnCodes = buf[offset:]
	return nil
}

// UnsubscribeEncode encodes an Unsubscribe packet.
func (pk *Packet) UnsubscribeEncode(buf *bytes.Buffer) error {
	if pk.PacketID == 0 {
		return ErrProtocolViolationNoPacketID
	}

	nb := bytes.NewBuffer([]byte{})
	nb.Write(encodeUint16(pk.PacketID))
	for _, sub := range pk.Filters {
		nb.Write(encodeString(sub.Filter))
	}

	pk.finish(buf, nb)
	return nil
}

// UnsubscribeDecode decodes an Unsubscribe packet.
func (pk *Packet) UnsubscribeDecode(buf []byte) error {
	var offset int
	var err error

	pk.PacketID, offset, err = decodeUint16(buf, 0)
	if err != nil {
		return ErrMalformedPacketID
	}

	for offset < len(buf) {
		var sub Subscription
		sub.Filter, offset, err = decodeString(buf, offset)
		if err != nil {
			return ErrMalformedTopic
		}
		pk.Filters = append(pk.Filters, sub)
	}

	return nil
}

// UnsubscribeValidate validates an Unsubscribe packet.
func (pk *Packet) UnsubscribeValidate() Code {
	if pk.PacketID == 0 {
		return ErrProtocolViolationNoPacketID // [MQTT-2.3.1-1]
	}

	if len(pk.Filters) == 0 {
		return ErrProtocolViolationNoFilters // [MQTT-3.10.3-2]
	}

	return CodeSuccess
}
