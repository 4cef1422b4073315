package tls

import (
	"context"
	"crypto/hmac"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/flynn/noise"
	"github.com/minio/sha256-simd"

	"github.com/dep2p/go-p2pstack/internal/core/identity"
)

// exporterLabel 密钥确认使用的导出标签
const exporterLabel = "EXPORTER-p2pstack-identity"

// ErrKeyConfirmation 对端未能证明持有身份私钥
var ErrKeyConfirmation = errors.New("tls: identity key confirmation failed")

// confirmIdentity 证明双方持有证书中声明的身份私钥
//
// 双方以静态 DH 共享密钥为 HMAC 密钥，对本次会话的导出密钥材料加角色标记求 MAC，
// 互相发送并校验。MAC 绑定到当前 TLS 会话，不能重放到其他连接。
func confirmIdentity(ctx context.Context, conn *tls.Conn, id *identity.Identity, remotePub []byte, client bool) error {
	shared, err := noise.DH25519.DH(id.PrivateKey(), remotePub)
	if err != nil {
		return fmt.Errorf("dh: %w", err)
	}

	state := conn.ConnectionState()
	material, err := state.ExportKeyingMaterial(exporterLabel, nil, sha256.Size)
	if err != nil {
		return fmt.Errorf("export keying material: %w", err)
	}

	mine := confirmationTag(shared, material, client)
	theirs := confirmationTag(shared, material, !client)

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	errc := make(chan error, 1)
	go func() {
		_, err := conn.Write(mine)
		errc <- err
	}()

	got := make([]byte, len(theirs))
	if _, err := io.ReadFull(conn, got); err != nil {
		return fmt.Errorf("read confirmation: %w", err)
	}
	if err := <-errc; err != nil {
		return fmt.Errorf("write confirmation: %w", err)
	}
	if !hmac.Equal(got, theirs) {
		return ErrKeyConfirmation
	}
	return conn.SetDeadline(time.Time{})
}

func confirmationTag(shared, material []byte, client bool) []byte {
	role := byte('s')
	if client {
		role = 'c'
	}
	mac := hmac.New(sha256.New, shared)
	mac.Write([]byte{role})
	mac.Write(material)
	return mac.Sum(nil)
}
