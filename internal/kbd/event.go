package kbd

import "encoding/binary"

// KeyEvent is a raw (type, code, value) input_event triple. The
// dispatcher treats Type and Value opaquely, comparing only Code against
// the passthrough set, but preserves all three on emission.
type KeyEvent struct {
	Type  uint16
	Code  uint16
	Value int32
}

// inputEventSize is sizeof(struct input_event) on 64-bit Linux: two
// 8-byte timeval fields followed by type(2)/code(2)/value(4).
const inputEventSize = 24

func decodeInputEvent(buf []byte) KeyEvent {
	return KeyEvent{
		Type:  binary.LittleEndian.Uint16(buf[16:18]),
		Code:  binary.LittleEndian.Uint16(buf[18:20]),
		Value: int32(binary.LittleEndian.Uint32(buf[20:24])),
	}
}
