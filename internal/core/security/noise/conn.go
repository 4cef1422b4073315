package noise

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/flynn/noise"

	"github.com/dep2p/go-p2pstack/internal/core/channel"
	"github.com/dep2p/go-p2pstack/pkg/interfaces"
	"github.com/dep2p/go-p2pstack/pkg/types"
)

// ============================================================================
// 加密 Channel
// ============================================================================

// newSecureChannel 在原始 Channel 上建立加密 Channel
//
// 返回配对的上端，下端由两个泵持有：出站泵加密后写入 raw，
// 入站泵从 raw 读帧解密后写入下端。上端关闭且出站泵排空后关闭 raw。
func newSecureChannel(raw interfaces.Channel, send, recv *noise.CipherState) *channel.Channel {
	up := channel.New()
	down := up.Peer()

	flushed := make(chan struct{})
	go func() {
		defer close(flushed)
		encryptLoop(raw, down, send)
	}()
	go decryptLoop(raw, down, recv)

	go func() {
		<-down.Done()
		<-flushed
		if down.Err() != nil {
			_ = raw.Reset()
			return
		}
		_ = raw.Close()
	}()

	return up
}

// encryptLoop 读取上端写出的明文，加密后写入 raw
func encryptLoop(raw interfaces.Channel, down *channel.Channel, cs *noise.CipherState) {
	buf := make([]byte, maxPlaintextSize)
	for {
		n, err := down.ReadContext(context.Background(), buf, types.ReadAny)
		if n > 0 {
			ct, eerr := cs.Encrypt(nil, nil, buf[:n])
			if eerr != nil {
				abort(down, eerr)
				return
			}
			if werr := writeFrame(context.Background(), raw, ct); werr != nil {
				abort(down, werr)
				return
			}
		}
		if errors.Is(err, io.EOF) {
			_ = raw.CloseWrite()
			return
		}
		if err != nil {
			return
		}
	}
}

// decryptLoop 从 raw 读帧，解密后写入下端
func decryptLoop(raw interfaces.Channel, down *channel.Channel, cs *noise.CipherState) {
	for {
		msg, err := readFrame(context.Background(), raw)
		if errors.Is(err, io.EOF) {
			_ = down.CloseWrite()
			return
		}
		if err != nil {
			abort(down, err)
			return
		}

		pt, err := cs.Decrypt(nil, nil, msg)
		if err != nil {
			logger.Warn("Noise 解密失败", "channel", raw.ID(), "err", err)
			abort(down, fmt.Errorf("decrypt: %w", err))
			return
		}
		if len(pt) == 0 {
			continue
		}
		if _, err := down.WriteContext(context.Background(), pt); err != nil {
			return
		}
	}
}

// abort 以致命错误中止加密 Channel，已关闭的不受影响
func abort(down *channel.Channel, err error) {
	if down.IsClosed() {
		return
	}
	_ = down.CloseWithError(fmt.Errorf("%w: %w", types.ErrConnectionFatal, err))
}
