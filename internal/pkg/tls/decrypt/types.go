// Package decrypt derives TLS 1.3 per-record keys from traffic secrets
// and performs AEAD decryption of application and handshake records.
//
// Secrets arrive pre-derived, read from an SSLKEYLOGFILE-format key log by
// the keylog package; this package never derives a traffic secret from a
// shared or pre-master secret, and it never handles TLS 1.2.
package decrypt

import (
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"hash"
)

// Hash algorithms used by the two in-scope TLS 1.3 cipher suites.
const (
	HashSHA256 = iota
	HashSHA384
)

func getHashFunc(alg int) func() hash.Hash {
	if alg == HashSHA384 {
		return sha512.New384
	}
	return sha256.New
}

func getHashSize(alg int) int {
	if alg == HashSHA384 {
		return 48
	}
	return 32
}

// Direction identifies which side of a connection a traffic secret and
// its derived keys belong to.
type Direction int

const (
	DirectionClient Direction = iota
	DirectionServer
)

func (d Direction) String() string {
	if d == DirectionServer {
		return "server"
	}
	return "client"
}

// CipherSuiteInfo describes the parameters of a TLS 1.3 AEAD cipher suite.
// Only the two AES-GCM suites are in scope; ChaCha20-Poly1305 and every
// TLS 1.2 suite (CBC, RSA key exchange) are not recognized.
type CipherSuiteInfo struct {
	ID            uint16
	Name          string
	KeyLen        int
	IVLen         int
	TagLen        int
	HashAlgorithm int
}

var cipherSuites = map[uint16]*CipherSuiteInfo{
	0x1301: {ID: 0x1301, Name: "TLS_AES_128_GCM_SHA256", KeyLen: 16, IVLen: 12, TagLen: 16, HashAlgorithm: HashSHA256},
	0x1302: {ID: 0x1302, Name: "TLS_AES_256_GCM_SHA384", KeyLen: 32, IVLen: 12, TagLen: 16, HashAlgorithm: HashSHA384},
}

// LookupCipherSuite returns suite parameters for id, or nil if the suite is
// not one of the two in-scope TLS 1.3 AES-GCM suites.
func LookupCipherSuite(id uint16) *CipherSuiteInfo {
	return cipherSuites[id]
}

// Sentinel errors returned by this package, always wrapped with
// fmt.Errorf("%w: detail", ...) at the call site.
var (
	ErrUnsupportedCipher = errors.New("unsupported cipher suite")
	ErrSecretMissing     = errors.New("secret not available for this direction")
	ErrAEADFailure       = errors.New("AEAD open failed")
	ErrInvalidInnerPlaintext = errors.New("TLSInnerPlaintext has no content type after removing zero padding")
)

// ContentTypeApplicationData is the record content type used as the
// opaque_type byte in every TLS 1.3 AEAD-protected record, and as the
// first byte of the associated data.
const ContentTypeApplicationData = 0x17
