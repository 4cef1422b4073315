package noise

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/flynn/noise"

	"github.com/dep2p/go-p2pstack/internal/core/identity"
	"github.com/dep2p/go-p2pstack/internal/core/security"
	"github.com/dep2p/go-p2pstack/pkg/interfaces"
	"github.com/dep2p/go-p2pstack/pkg/types"
)

// ============================================================================
// Noise XX 握手
// ============================================================================
//
//   -> e
//   <- e, ee, s, es
//   -> s, se
//
// 静态密钥就是节点身份，握手完成即证明对端持有 PeerID 对应的私钥。

// prologue 绑定协议版本，两端不一致时握手失败
var prologue = []byte("p2pstack-noise/1")

type handshakeResult struct {
	send, recv *noise.CipherState
	remotePub  []byte
	remotePeer types.PeerID
}

func handshake(ctx context.Context, ch interfaces.Channel, id *identity.Identity, initiator bool, expected types.PeerID) (*handshakeResult, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeXX,
		Initiator:     initiator,
		Prologue:      prologue,
		StaticKeypair: id.DHKey(),
	})
	if err != nil {
		return nil, fmt.Errorf("create handshake state: %w", err)
	}

	var send, recv *noise.CipherState
	if initiator {
		send, recv, err = initiatorHandshake(ctx, ch, hs)
	} else {
		send, recv, err = responderHandshake(ctx, ch, hs)
	}
	if err != nil {
		return nil, err
	}

	remotePub := hs.PeerStatic()
	remote, err := identity.PeerIDFromPublicKey(remotePub)
	if err != nil {
		return nil, fmt.Errorf("derive remote peer id: %w", err)
	}
	if !expected.IsEmpty() && remote != expected {
		return nil, fmt.Errorf("%w: expected %s, got %s", security.ErrPeerIDMismatch, expected.ShortString(), remote.ShortString())
	}

	return &handshakeResult{
		send:       send,
		recv:       recv,
		remotePub:  append([]byte(nil), remotePub...),
		remotePeer: remote,
	}, nil
}

func initiatorHandshake(ctx context.Context, ch interfaces.Channel, hs *noise.HandshakeState) (*noise.CipherState, *noise.CipherState, error) {
	msg1, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("write message 1: %w", err)
	}
	if err := writeFrame(ctx, ch, msg1); err != nil {
		return nil, nil, fmt.Errorf("send message 1: %w", err)
	}

	msg2, err := readFrame(ctx, ch)
	if err != nil {
		return nil, nil, fmt.Errorf("receive message 2: %w", err)
	}
	if _, _, _, err := hs.ReadMessage(nil, msg2); err != nil {
		return nil, nil, fmt.Errorf("read message 2: %w", err)
	}

	msg3, cs1, cs2, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("write message 3: %w", err)
	}
	if err := writeFrame(ctx, ch, msg3); err != nil {
		return nil, nil, fmt.Errorf("send message 3: %w", err)
	}

	// 发起方：cs1 发送，cs2 接收
	return cs1, cs2, nil
}

func responderHandshake(ctx context.Context, ch interfaces.Channel, hs *noise.HandshakeState) (*noise.CipherState, *noise.CipherState, error) {
	msg1, err := readFrame(ctx, ch)
	if err != nil {
		return nil, nil, fmt.Errorf("receive message 1: %w", err)
	}
	if _, _, _, err := hs.ReadMessage(nil, msg1); err != nil {
		return nil, nil, fmt.Errorf("read message 1: %w", err)
	}

	msg2, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("write message 2: %w", err)
	}
	if err := writeFrame(ctx, ch, msg2); err != nil {
		return nil, nil, fmt.Errorf("send message 2: %w", err)
	}

	msg3, err := readFrame(ctx, ch)
	if err != nil {
		return nil, nil, fmt.Errorf("receive message 3: %w", err)
	}
	_, cs1, cs2, err := hs.ReadMessage(nil, msg3)
	if err != nil {
		return nil, nil, fmt.Errorf("read message 3: %w", err)
	}

	// 响应方与发起方相反
	return cs2, cs1, nil
}

// ============================================================================
// 帧：2 字节大端长度 + 消息
// ============================================================================

func writeFrame(ctx context.Context, ch interfaces.Channel, msg []byte) error {
	if len(msg) > maxMessageSize {
		return fmt.Errorf("message too large: %d", len(msg))
	}
	buf := make([]byte, 2+len(msg))
	binary.BigEndian.PutUint16(buf, uint16(len(msg)))
	copy(buf[2:], msg)
	_, err := ch.WriteContext(ctx, buf)
	return err
}

// readFrame 读取一帧，帧边界处结束返回 io.EOF，帧中途结束返回 io.ErrUnexpectedEOF
func readFrame(ctx context.Context, ch interfaces.Channel) ([]byte, error) {
	var lenBuf [2]byte
	if k, err := ch.ReadContext(ctx, lenBuf[:], types.ReadFull); err != nil {
		return nil, truncated(k, err)
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	msg := make([]byte, n)
	if n == 0 {
		return msg, nil
	}
	if _, err := ch.ReadContext(ctx, msg, types.ReadFull); err != nil {
		return nil, truncated(1, err)
	}
	return msg, nil
}

// truncated 已读出部分帧时把 io.EOF 换成 io.ErrUnexpectedEOF
func truncated(read int, err error) error {
	if read > 0 && errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
