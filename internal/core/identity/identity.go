// Package identity 实现节点身份
//
// 节点持有一把 Curve25519 静态密钥：Noise 握手直接使用它，
// PeerID 由公钥派生：Base58(SHA256(公钥))。
package identity

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/flynn/noise"
	"github.com/minio/sha256-simd"
	"github.com/mr-tron/base58"

	"github.com/dep2p/go-p2pstack/pkg/types"
)

// ============================================================================
// 错误定义
// ============================================================================

var (
	// ErrInvalidKeySize 密钥长度错误
	ErrInvalidKeySize = errors.New("identity: invalid key size")

	// ErrEmptyPublicKey 空公钥
	ErrEmptyPublicKey = errors.New("identity: empty public key")

	// ErrInvalidPeerID 无效的 PeerID
	ErrInvalidPeerID = errors.New("identity: invalid peer id")

	// ErrFailedToGenerateKey 密钥生成失败
	ErrFailedToGenerateKey = errors.New("identity: failed to generate key")
)

// KeySize Curve25519 密钥长度
const KeySize = 32

// ============================================================================
//                              Identity
// ============================================================================

// Identity 本地节点身份
type Identity struct {
	key    noise.DHKey
	peerID types.PeerID
}

// Generate 生成新身份，r 为 nil 时使用 crypto/rand
func Generate(r io.Reader) (*Identity, error) {
	if r == nil {
		r = rand.Reader
	}
	key, err := noise.DH25519.GenerateKeypair(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToGenerateKey, err)
	}
	return fromKey(key)
}

// FromPrivateKey 从 32 字节私钥恢复身份
func FromPrivateKey(priv []byte) (*Identity, error) {
	if len(priv) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(priv))
	}
	// DH25519 的 GenerateKeypair 直接读取 32 字节作为私钥
	key, err := noise.DH25519.GenerateKeypair(fixedReader(priv))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToGenerateKey, err)
	}
	return fromKey(key)
}

func fromKey(key noise.DHKey) (*Identity, error) {
	id, err := PeerIDFromPublicKey(key.Public)
	if err != nil {
		return nil, err
	}
	return &Identity{key: key, peerID: id}, nil
}

// PeerID 返回节点 ID
func (i *Identity) PeerID() types.PeerID {
	return i.peerID
}

// PublicKey 返回公钥副本
func (i *Identity) PublicKey() []byte {
	return append([]byte(nil), i.key.Public...)
}

// PrivateKey 返回私钥副本
func (i *Identity) PrivateKey() []byte {
	return append([]byte(nil), i.key.Private...)
}

// DHKey 返回 Noise 静态密钥
func (i *Identity) DHKey() noise.DHKey {
	return i.key
}

// ============================================================================
//                              PeerID 派生
// ============================================================================

// PeerIDFromPublicKey 从公钥派生 PeerID
func PeerIDFromPublicKey(pub []byte) (types.PeerID, error) {
	if len(pub) == 0 {
		return "", ErrEmptyPublicKey
	}
	if len(pub) != KeySize {
		return "", fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(pub))
	}
	sum := sha256.Sum256(pub)
	return types.PeerID(base58.Encode(sum[:])), nil
}

// ValidatePeerID 验证 PeerID 格式
func ValidatePeerID(id types.PeerID) error {
	if id.IsEmpty() {
		return types.ErrEmptyPeerID
	}
	raw, err := base58.Decode(string(id))
	if err != nil || len(raw) != sha256.Size {
		return fmt.Errorf("%w: %s", ErrInvalidPeerID, id)
	}
	return nil
}

// VerifyPeerID 检查公钥是否对应 PeerID
func VerifyPeerID(id types.PeerID, pub []byte) error {
	derived, err := PeerIDFromPublicKey(pub)
	if err != nil {
		return err
	}
	if derived != id {
		return fmt.Errorf("%w: expected %s, derived %s", ErrInvalidPeerID, id.ShortString(), derived.ShortString())
	}
	return nil
}

type fixedReader []byte

func (f fixedReader) Read(p []byte) (int, error) {
	return copy(p, f), nil
}
