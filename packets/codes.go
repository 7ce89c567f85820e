// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

// Code contains a reason code and reason string for a response.
type Code struct {
	Reason string
	Code   byte
}

// String returns the readable reason for a code.
func (c Code) String() string {
	return c.Reason
}

// Error returns the readable reason for a code.
func (c Code) Error() string {
	return c.Reason
}

var (
	// QosCodes indicates the suback return code for each granted qos byte.
	QosCodes = map[byte]Code{
		0: CodeGrantedQos0,
		1: CodeGrantedQos1,
		2: CodeGrantedQos2,
	}

	CodeSuccess     = Code{Code: 0x00, Reason: "success"}
	CodeGrantedQos0 = Code{Code: 0x00, Reason: "granted qos 0"}
	CodeGrantedQos1 = Code{Code: 0x01, Reason: "granted qos 1"}
	CodeGrantedQos2 = Code{Code: 0x02, Reason: "granted qos 2"}
	CodeSubackFail  = Code{Code: 0x80, Reason: "subscription failure"}

	// Connack return codes.
	ErrUnsupportedProtocolVersion = Code{Code: 0x01, Reason: "unacceptable protocol version"}
	ErrClientIdentifierNotValid   = Code{Code: 0x02, Reason: "identifier rejected"}
	ErrServerUnavailable          = Code{Code: 0x03, Reason: "server unavailable"}
	ErrBadUsernameOrPassword      = Code{Code: 0x04, Reason: "bad user name or password"}
	ErrNotAuthorized              = Code{Code: 0x05, Reason: "not authorized"}

	ErrMalformedPacket                = Code{Code: 0x81, Reason: "malformed packet"}
	ErrMalformedProtocolName          = Code{Code: 0x81, Reason: "malformed packet: protocol name"}
	ErrMalformedProtocolVersion       = Code{Code: 0x81, Reason: "malformed packet: protocol version"}
	ErrMalformedFlags                 = Code{Code: 0x81, Reason: "malformed packet: flags"}
	ErrMalformedKeepalive             = Code{Code: 0x81, Reason: "malformed packet: keepalive"}
	ErrMalformedPacketID              = Code{Code: 0x81, Reason: "malformed packet: packet identifier"}
	ErrMalformedTopic                 = Code{Code: 0x81, Reason: "malformed packet: topic"}
	ErrMalformedWillTopic             = Code{Code: 0x81, Reason: "malformed packet: will topic"}
	ErrMalformedWillPayload           = Code{Code: 0x81, Reason: "malformed packet: will message"}
	ErrMalformedUsername              = Code{Code: 0x81, Reason: "malformed packet: username"}
	ErrMalformedPassword              = Code{Code: 0x81, Reason: "malformed packet: password"}
	ErrMalformedQos                   = Code{Code: 0x81, Reason: "malformed packet: qos"}
	ErrMalformedSessionPresent        = Code{Code: 0x81, Reason: "malformed packet: session present"}
	ErrMalformedReturnCode            = Code{Code: 0x81, Reason: "malformed packet: return code"}
	ErrMalformedOffsetUintOutOfRange  = Code{Code: 0x81, Reason: "malformed packet: offset uint out of range"}
	ErrMalformedOffsetBytesOutOfRange = Code{Code: 0x81, Reason: "malformed packet: offset bytes out of range"}
	ErrMalformedOffsetByteOutOfRange  = Code{Code: 0x81, Reason: "malformed packet: offset byte out of range"}
	ErrMalformedOffsetBoolOutOfRange  = Code{Code: 0x81, Reason: "malformed packet: offset boolean out of range"}
	ErrMalformedInvalidUTF8           = Code{Code: 0x81, Reason: "malformed packet: invalid utf-8 string"}
	ErrMalformedVariableByteInteger   = Code{Code: 0x81, Reason: "malformed packet: variable byte integer out of range"}
	ErrMalformedInvalidFlags          = Code{Code: 0x81, Reason: "malformed packet: invalid fixed header flags"}
	ErrMalformedUnknownType           = Code{Code: 0x81, Reason: "malformed packet: unknown packet type"}

	ErrProtocolViolation                      = Code{Code: 0x82, Reason: "protocol violation"}
	ErrProtocolViolationProtocolName          = Code{Code: 0x82, Reason: "protocol violation: protocol name"}
	ErrProtocolViolationProtocolVersion       = Code{Code: 0x82, Reason: "protocol violation: protocol version"}
	ErrProtocolViolationReservedBit           = Code{Code: 0x82, Reason: "protocol violation: reserved bit not 0"}
	ErrProtocolViolationFlagNoUsername        = Code{Code: 0x82, Reason: "protocol violation: username flag set but no value"}
	ErrProtocolViolationFlagNoPassword        = Code{Code: 0x82, Reason: "protocol violation: password flag set but no value"}
	ErrProtocolViolationPasswordNoUsername    = Code{Code: 0x82, Reason: "protocol violation: password set without username"}
	ErrProtocolViolationNoPacketID            = Code{Code: 0x82, Reason: "protocol violation: missing packet id"}
	ErrProtocolViolationQosOutOfRange         = Code{Code: 0x82, Reason: "protocol violation: qos out of range"}
	ErrProtocolViolationSecondConnect         = Code{Code: 0x82, Reason: "protocol violation: second connect packet"}
	ErrProtocolViolationRequireFirstConnect   = Code{Code: 0x82, Reason: "protocol violation: first packet must be connect"}
	ErrProtocolViolationWillFlagNoPayload     = Code{Code: 0x82, Reason: "protocol violation: will flag no payload"}
	ErrProtocolViolationWillFlagSurplusRetain = Code{Code: 0x82, Reason: "protocol violation: will flag surplus retain"}
	ErrProtocolViolationSurplusWildcard       = Code{Code: 0x82, Reason: "protocol violation: topic contains wildcards"}
	ErrProtocolViolationInvalidTopic          = Code{Code: 0x82, Reason: "protocol violation: invalid topic"}
	ErrProtocolViolationNoFilters             = Code{Code: 0x82, Reason: "protocol violation: must contain at least one filter"}
	ErrProtocolViolationDupNoQos              = Code{Code: 0x82, Reason: "protocol violation: dup true with no qos"}
	ErrProtocolViolationUnexpectedPacket      = Code{Code: 0x82, Reason: "protocol violation: unexpected packet from client"}
	ErrPacketTooLarge                         = Code{Code: 0x95, Reason: "packet too large"}
	ErrTopicNameInvalid                       = Code{Code: 0x90, Reason: "topic name invalid"}
)
