// Package protocol implements the framing and message vocabulary of the TNT
// body-composition scale BLE protocol.
package protocol

import "strconv"

// MessageType identifies a logical scale request. The same value names the
// response to that request, although responses carry a distinct opcode on
// the wire (see Classify).
type MessageType int

const (
	Unknown                  MessageType = 0
	Disconnect               MessageType = 1
	SaveUUID                 MessageType = 2
	VerifyUUID               MessageType = 3
	WriteDate                MessageType = 16
	RetrieveDeviceInfo       MessageType = 32
	RetrieveUserInfo         MessageType = 4096
	ExchangeUserInfo         MessageType = 4098
	Measure                  MessageType = 8208
	RetrieveMeasurementCount MessageType = 12288
	RetrieveMeasurementInfo  MessageType = 12304
)

var names = map[MessageType]string{
	Unknown:                  "Unknown",
	Disconnect:               "Disconnect",
	SaveUUID:                 "SaveUUID",
	VerifyUUID:               "VerifyUUID",
	WriteDate:                "WriteDate",
	RetrieveDeviceInfo:       "RetrieveDeviceInfo",
	RetrieveUserInfo:         "RetrieveUserInfo",
	ExchangeUserInfo:         "ExchangeUserInfo",
	Measure:                  "Measure",
	RetrieveMeasurementCount: "RetrieveMeasurementCount",
	RetrieveMeasurementInfo:  "RetrieveMeasurementInfo",
}

// responses maps the response opcode found at offset 6-7 of a reassembled
// message to the request it answers. It is never written after init.
var responses = map[uint16]MessageType{
	0x8001: Disconnect,
	0x8002: SaveUUID,
	0x8003: VerifyUUID,
	0x8010: WriteDate,
	0x8020: RetrieveDeviceInfo,
	0x9000: RetrieveUserInfo,
	0x9002: ExchangeUserInfo,
	0xa010: Measure,
	0xb000: RetrieveMeasurementCount,
	0xb010: RetrieveMeasurementInfo,
}

// opcodeOffset is the offset of the big-endian response opcode.
const opcodeOffset = 6

// Name returns the symbolic name of t, or "" if t is not a known type.
func (t MessageType) Name() string {
	return names[t]
}

// String implements fmt.Stringer.
func (t MessageType) String() string {
	if n, ok := names[t]; ok {
		return n
	}
	return "MessageType(" + strconv.Itoa(int(t)) + ")"
}

// Classify returns the MessageType answered by the reassembled message msg.
// Short messages and unregistered opcodes yield Unknown.
func Classify(msg []byte) MessageType {
	if len(msg) < opcodeOffset+2 {
		return Unknown
	}
	code := uint16(msg[opcodeOffset])<<8 | uint16(msg[opcodeOffset+1])
	return responses[code]
}
