package tls

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/dep2p/go-p2pstack/internal/core/identity"
	"github.com/dep2p/go-p2pstack/pkg/types"
)

// oidIdentityKey 证书扩展 OID，值为节点 Curve25519 静态公钥
var oidIdentityKey = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 53594, 1, 2}

// certValidity 证书有效期
const certValidity = 24 * time.Hour

var (
	// ErrNoCertificate 对端未提供证书
	ErrNoCertificate = errors.New("tls: peer sent no certificate")

	// ErrNoIdentityExtension 证书缺少身份公钥扩展
	ErrNoIdentityExtension = errors.New("tls: certificate has no identity key extension")
)

// newCertificate 生成携带身份公钥的自签名证书
//
// 证书密钥是一次性的 Ed25519 密钥，身份公钥写入扩展。
// 扩展只是声明，持有证明由握手后的密钥确认完成。
func newCertificate(id *identity.Identity) (tls.Certificate, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate certificate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: id.PeerID().ShortString()},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(certValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		ExtraExtensions: []pkix.Extension{
			{Id: oidIdentityKey, Value: id.PublicKey()},
		},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parse certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
		Leaf:        leaf,
	}, nil
}

// identityKey 从对端证书提取身份公钥并派生 PeerID
func identityKey(rawCerts [][]byte) ([]byte, types.PeerID, error) {
	if len(rawCerts) == 0 {
		return nil, "", ErrNoCertificate
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return nil, "", fmt.Errorf("parse certificate: %w", err)
	}

	now := time.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return nil, "", fmt.Errorf("tls: certificate not valid at %s", now.Format(time.RFC3339))
	}

	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(oidIdentityKey) {
			continue
		}
		peer, err := identity.PeerIDFromPublicKey(ext.Value)
		if err != nil {
			return nil, "", err
		}
		return append([]byte(nil), ext.Value...), peer, nil
	}
	return nil, "", ErrNoIdentityExtension
}
