package yamux

import (
	"encoding/binary"
	"fmt"

	"github.com/dep2p/go-p2pstack/pkg/types"
)

// ============================================================================
//                              帧格式
// ============================================================================
//
// 帧头固定 12 字节，大端序：
//
//	| version u8 | type u8 | flags u16 | stream id u32 | length u32 |
//
// Data 帧的 length 为负载长度；WindowUpdate 帧的 length 为窗口增量；
// Ping 帧的 length 为不透明值；GoAway 帧的 length 为原因码。

const (
	protoVersion uint8 = 0
	headerSize         = 12
)

// frameType 帧类型
type frameType uint8

const (
	typeData frameType = iota
	typeWindowUpdate
	typePing
	typeGoAway
)

func (t frameType) String() string {
	switch t {
	case typeData:
		return "data"
	case typeWindowUpdate:
		return "window-update"
	case typePing:
		return "ping"
	case typeGoAway:
		return "go-away"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// flags 帧标志位
type flags uint16

const (
	flagSYN flags = 1 << iota
	flagACK
	flagFIN
	flagRST
)

// GoAway 原因码
const (
	goAwayNormal uint32 = iota
	goAwayProtoErr
	goAwayInternalErr
)

// header 解码后的帧头
type header struct {
	Version  uint8
	Type     frameType
	Flags    flags
	StreamID types.StreamID
	Length   uint32
}

func (h header) has(f flags) bool {
	return h.Flags&f != 0
}

func (h header) String() string {
	return fmt.Sprintf("v=%d type=%s flags=%#x stream=%d length=%d",
		h.Version, h.Type, uint16(h.Flags), h.StreamID, h.Length)
}

// encode 编码帧头到 buf，buf 长度至少 headerSize
func (h header) encode(buf []byte) {
	buf[0] = h.Version
	buf[1] = uint8(h.Type)
	binary.BigEndian.PutUint16(buf[2:4], uint16(h.Flags))
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.StreamID))
	binary.BigEndian.PutUint32(buf[8:12], h.Length)
}

// decodeHeader 从 buf 解码帧头
func decodeHeader(buf []byte) header {
	return header{
		Version:  buf[0],
		Type:     frameType(buf[1]),
		Flags:    flags(binary.BigEndian.Uint16(buf[2:4])),
		StreamID: types.StreamID(binary.BigEndian.Uint32(buf[4:8])),
		Length:   binary.BigEndian.Uint32(buf[8:12]),
	}
}

// newFrame 构造完整帧，payload 被复制
func newFrame(t frameType, f flags, id types.StreamID, length uint32, payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload))
	header{Version: protoVersion, Type: t, Flags: f, StreamID: id, Length: length}.encode(buf)
	copy(buf[headerSize:], payload)
	return buf
}

func dataFrame(id types.StreamID, f flags, payload []byte) []byte {
	return newFrame(typeData, f, id, uint32(len(payload)), payload)
}

func windowUpdateFrame(id types.StreamID, f flags, delta uint32) []byte {
	return newFrame(typeWindowUpdate, f, id, delta, nil)
}

func pingFrame(f flags, opaque uint32) []byte {
	return newFrame(typePing, f, 0, opaque, nil)
}

func goAwayFrame(code uint32) []byte {
	return newFrame(typeGoAway, 0, 0, code, nil)
}
