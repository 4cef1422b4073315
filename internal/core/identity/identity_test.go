package identity

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-p2pstack/config"
	"github.com/dep2p/go-p2pstack/pkg/types"
)

// TestIdentity_Generate 生成身份并派生 PeerID
func TestIdentity_Generate(t *testing.T) {
	id, err := Generate(nil)
	require.NoError(t, err)

	assert.Len(t, id.PublicKey(), KeySize)
	assert.Len(t, id.PrivateKey(), KeySize)
	assert.NoError(t, ValidatePeerID(id.PeerID()))

	derived, err := PeerIDFromPublicKey(id.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, id.PeerID(), derived)

	other, err := Generate(nil)
	require.NoError(t, err)
	assert.NotEqual(t, id.PeerID(), other.PeerID())

	t.Log("✅ 身份生成测试通过")
}

// TestIdentity_FromPrivateKey 同一私钥得到同一身份
func TestIdentity_FromPrivateKey(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, KeySize)

	a, err := Generate(bytes.NewReader(seed))
	require.NoError(t, err)
	b, err := FromPrivateKey(seed)
	require.NoError(t, err)

	assert.Equal(t, a.PeerID(), b.PeerID())
	assert.Equal(t, a.PublicKey(), b.PublicKey())

	_, err = FromPrivateKey([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

// TestPeerID_Validate 格式校验
func TestPeerID_Validate(t *testing.T) {
	assert.ErrorIs(t, ValidatePeerID(""), types.ErrEmptyPeerID)
	assert.ErrorIs(t, ValidatePeerID("not-base58-0OIl"), ErrInvalidPeerID)
	assert.ErrorIs(t, ValidatePeerID("abc"), ErrInvalidPeerID)

	_, err := PeerIDFromPublicKey(nil)
	assert.ErrorIs(t, err, ErrEmptyPublicKey)
}

// TestPeerID_Verify 公钥与 PeerID 对应
func TestPeerID_Verify(t *testing.T) {
	a, err := Generate(nil)
	require.NoError(t, err)
	b, err := Generate(nil)
	require.NoError(t, err)

	assert.NoError(t, VerifyPeerID(a.PeerID(), a.PublicKey()))
	assert.ErrorIs(t, VerifyPeerID(a.PeerID(), b.PublicKey()), ErrInvalidPeerID)
}

// TestStorage_LoadOrGenerate 首次生成并写入，再次加载得到同一身份
func TestStorage_LoadOrGenerate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.key")
	cfg := config.DefaultIdentityConfig().WithKeyFile(path)

	first, err := Load(cfg)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	second, err := Load(cfg)
	require.NoError(t, err)
	assert.Equal(t, first.PeerID(), second.PeerID())
}

// TestStorage_Errors 缺失文件与损坏文件
func TestStorage_Errors(t *testing.T) {
	dir := t.TempDir()

	cfg := config.IdentityConfig{KeyFile: filepath.Join(dir, "missing.key")}
	_, err := Load(cfg)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	bad := filepath.Join(dir, "bad.key")
	require.NoError(t, os.WriteFile(bad, []byte("garbage"), 0600))
	_, err = LoadPrivateKeyPEM(bad)
	assert.ErrorIs(t, err, ErrInvalidPEM)

	// 空路径使用临时身份
	id, err := Load(config.IdentityConfig{AutoGenerate: true})
	require.NoError(t, err)
	assert.NotEmpty(t, id.PeerID())
}
