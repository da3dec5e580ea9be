package decrypt

import (
	"fmt"

	"github.com/ntkit/tlsdissect/internal/pkg/tls/decrypt/ciphers"
)

// DecryptRecord decrypts a single TLS 1.3 AEAD-protected record.
//
// header is the record's 5-byte wire header (content_type, legacy_version,
// length); per RFC 8446 §5.2 it is used verbatim as additional data even
// though content_type on the wire is always application_data (23) for
// protected records. ciphertext is the record fragment including the
// trailing authentication tag.
//
// On success it returns the inner plaintext with its padding stripped and
// the real content type recovered from the last non-zero byte, per RFC
// 8446 §5.4's TLSInnerPlaintext framing.
func DecryptRecord(suite *CipherSuiteInfo, key, iv []byte, seqNum uint64, header [5]byte, ciphertext []byte) (plaintext []byte, contentType byte, err error) {
	aead, err := ciphers.NewAESGCM(key)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnsupportedCipher, err)
	}

	nonce := ConstructNonce(iv, seqNum)
	additionalData := header[:]

	inner, err := aead.Open(nonce, ciphertext, additionalData)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrAEADFailure, err)
	}

	return unwrapInnerPlaintext(inner)
}

// unwrapInnerPlaintext strips the zero padding from a TLSInnerPlaintext
// and returns the content and real content type, per RFC 8446 §5.4:
//
//	struct {
//	    opaque content[TLSPlaintext.length];
//	    ContentType type;
//	    uint8 zeros[length_of_padding];
//	} TLSInnerPlaintext;
func unwrapInnerPlaintext(inner []byte) ([]byte, byte, error) {
	i := len(inner) - 1
	for i >= 0 && inner[i] == 0 {
		i--
	}
	if i < 0 {
		return nil, 0, ErrInvalidInnerPlaintext
	}
	return inner[:i], inner[i], nil
}

// DeriveKeyIV derives the AEAD key and IV for one direction's traffic
// secret, given the cipher suite negotiated for the connection.
func DeriveKeyIV(secret []byte, cipherSuiteID uint16) (*KeyMaterial, error) {
	suite := LookupCipherSuite(cipherSuiteID)
	if suite == nil {
		return nil, fmt.Errorf("%w: 0x%04x", ErrUnsupportedCipher, cipherSuiteID)
	}
	return DeriveTrafficKeys(secret, suite), nil
}
