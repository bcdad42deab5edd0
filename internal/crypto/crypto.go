// Package crypto implements the signing primitives behind hardware-bound
// authentication: ECDSA P-256 key pairs exchanged as PEM, SHA-256/Base64
// digests, fixed-width raw signatures, and bound auth token assembly.
package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"
)

// rawSignatureSize is the length of a P-256 signature as r||s,
// each component left-zero-padded to 32 bytes.
const rawSignatureSize = 64

// KeyPair holds a PEM-encoded ECDSA P-256 key pair. The zero value is
// invalid.
type KeyPair struct {
	PrivateKeyPEM string
	PublicKeyPEM  string
}

// Valid reports whether the pair carries a private key.
func (k KeyPair) Valid() bool { return k.PrivateKeyPEM != "" }

// GenerateKeyPair generates a new ECDSA P-256 key pair and returns it
// PEM-encoded. On failure it returns an invalid zero pair along with the
// error; it never panics.
func GenerateKeyPair() (KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("gen key: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return KeyPair{}, fmt.Errorf("marshal priv key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return KeyPair{}, fmt.Errorf("marshal pub key: %w", err)
	}

	return KeyPair{
		PrivateKeyPEM: string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})),
		PublicKeyPEM:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})),
	}, nil
}

// SHA256Base64 returns the Base64-encoded SHA-256 digest of data.
// data may be empty; the function has no failure mode.
func SHA256Base64(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// ParsePrivateKey loads an ECDSA private key from a PEM string. Both
// SEC 1 ("EC PRIVATE KEY") and PKCS#8 ("PRIVATE KEY") blocks are accepted.
func ParsePrivateKey(pemStr string) (*ecdsa.PrivateKey, error) {
	if pemStr == "" {
		return nil, errors.New("empty private key PEM")
	}

	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("invalid private key PEM")
	}

	switch block.Type {
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse pkcs8 key: %w", err)
		}
		ecKey, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, errors.New("not an ECDSA private key")
		}
		return ecKey, nil
	default:
		return nil, fmt.Errorf("unsupported key type: %s", block.Type)
	}
}

// SignECDSA signs message with the PEM-encoded private key using ECDSA over
// SHA-256. The signature is the fixed 64-byte raw form (32-byte r, 32-byte s,
// left-zero-padded; not DER), Base64-encoded.
func SignECDSA(privateKeyPEM string, message []byte) (string, error) {
	priv, err := ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return "", fmt.Errorf("load signing key: %w", err)
	}

	digest := sha256.Sum256(message)
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}

	raw := make([]byte, rawSignatureSize)
	r.FillBytes(raw[:32])
	s.FillBytes(raw[32:])

	return base64.StdEncoding.EncodeToString(raw), nil
}

// VerifyECDSA checks a raw r||s signature produced by SignECDSA against the
// PEM-encoded public key.
func VerifyECDSA(publicKeyPEM string, message []byte, signatureB64 string) bool {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return false
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return false
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return false
	}

	raw, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil || len(raw) != rawSignatureSize {
		return false
	}

	r := new(big.Int).SetBytes(raw[:32])
	s := new(big.Int).SetBytes(raw[32:])
	digest := sha256.Sum256(message)
	return ecdsa.Verify(pub, digest[:], r, s)
}

// GenerateBoundAuthToken builds the v1 bound auth token for a request:
//
//	v1|sha256b64(body)|timestamp|sig1|sig2
//
// where sig1 signs "hash|timestamp|url|METHOD" and sig2 signs
// "|timestamp|url|METHOD". The timestamp is the current wall-clock time in
// unix seconds; servers reject stale tokens, so generate the token
// immediately before sending the request it protects.
func GenerateBoundAuthToken(privateKeyPEM, url, method string, body []byte) (string, error) {
	return boundAuthTokenAt(privateKeyPEM, url, method, body, time.Now().Unix())
}

func boundAuthTokenAt(privateKeyPEM, url, method string, body []byte, unixSeconds int64) (string, error) {
	if privateKeyPEM == "" {
		return "", errors.New("no private key")
	}

	timestamp := strconv.FormatInt(unixSeconds, 10)
	hashedBody := SHA256Base64(body)

	sig1, err := SignECDSA(privateKeyPEM, []byte(hashedBody+"|"+timestamp+"|"+url+"|"+method))
	if err != nil {
		return "", fmt.Errorf("bound auth signature: %w", err)
	}
	sig2, err := SignECDSA(privateKeyPEM, []byte("|"+timestamp+"|"+url+"|"+method))
	if err != nil {
		return "", fmt.Errorf("bound auth signature: %w", err)
	}

	return "v1|" + hashedBody + "|" + timestamp + "|" + sig1 + "|" + sig2, nil
}
