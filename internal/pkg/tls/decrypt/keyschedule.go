package decrypt

import (
	"encoding/binary"

	"golang.org/x/crypto/hkdf"
)

// TLS 1.3 traffic keys are derived from a traffic secret using
// HKDF-Expand-Label, defined in RFC 8446 §7.1. This package only derives
// write_key and write_iv from secrets already present in a key log; it
// never performs the early/handshake/master secret derivation chain that
// a full TLS 1.3 stack needs, since that requires the shared secret from
// key exchange, which this module never has.
const (
	labelKey = "key"
	labelIV  = "iv"
)

// hkdfExpandLabel implements HKDF-Expand-Label as defined in RFC 8446 §7.1.
//
//	HKDF-Expand-Label(Secret, Label, Context, Length) =
//	    HKDF-Expand(Secret, HkdfLabel, Length)
//
// where HkdfLabel is:
//
//	struct {
//	    uint16 length = Length;
//	    opaque label<7..255> = "tls13 " + Label;
//	    opaque context<0..255> = Context;
//	} HkdfLabel;
func hkdfExpandLabel(hashAlg int, secret []byte, label string, context []byte, length int) []byte {
	fullLabel := "tls13 " + label

	hkdfLabel := make([]byte, 2+1+len(fullLabel)+1+len(context))
	pos := 0

	binary.BigEndian.PutUint16(hkdfLabel[pos:], uint16(length))
	pos += 2

	hkdfLabel[pos] = uint8(len(fullLabel))
	pos++
	copy(hkdfLabel[pos:], fullLabel)
	pos += len(fullLabel)

	hkdfLabel[pos] = uint8(len(context))
	pos++
	copy(hkdfLabel[pos:], context)

	reader := hkdf.Expand(getHashFunc(hashAlg), secret, hkdfLabel)

	output := make([]byte, length)
	_, _ = reader.Read(output)
	return output
}

// KeyMaterial holds the AEAD key and IV derived from a single traffic
// secret.
type KeyMaterial struct {
	Key []byte
	IV  []byte
}

// DeriveTrafficKeys derives write_key and write_iv from a traffic secret,
// per RFC 8446 §7.3.
//
//	[sender]_write_key = HKDF-Expand-Label(Secret, "key", "", key_length)
//	[sender]_write_iv  = HKDF-Expand-Label(Secret, "iv", "", iv_length)
func DeriveTrafficKeys(trafficSecret []byte, suite *CipherSuiteInfo) *KeyMaterial {
	return &KeyMaterial{
		Key: hkdfExpandLabel(suite.HashAlgorithm, trafficSecret, labelKey, nil, suite.KeyLen),
		IV:  hkdfExpandLabel(suite.HashAlgorithm, trafficSecret, labelIV, nil, suite.IVLen),
	}
}

// ConstructNonce builds the per-record AEAD nonce for TLS 1.3, per RFC
// 8446 §5.3: the write IV XORed with the 64-bit sequence number,
// right-aligned and big-endian.
func ConstructNonce(writeIV []byte, seqNum uint64) []byte {
	nonce := make([]byte, len(writeIV))
	copy(nonce, writeIV)

	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seqNum)

	ivLen := len(writeIV)
	for i := 0; i < 8; i++ {
		nonce[ivLen-8+i] ^= seqBytes[i]
	}

	return nonce
}

// ComputeAdditionalData builds the AEAD associated data for a TLS 1.3
// record, per RFC 8446 §5.2: the 5-byte record header, with opaque_type
// fixed at application_data (23) and legacy_record_version fixed at
// {0x03, 0x03} regardless of the record's real content type.
func ComputeAdditionalData(ciphertextLength int) []byte {
	ad := make([]byte, 5)
	ad[0] = ContentTypeApplicationData
	ad[1] = 0x03
	ad[2] = 0x03
	binary.BigEndian.PutUint16(ad[3:5], uint16(ciphertextLength))
	return ad
}

// GetHashAlgorithmForCipher returns the transcript hash algorithm used by
// a TLS 1.3 cipher suite.
func GetHashAlgorithmForCipher(cipherSuiteID uint16) int {
	if cipherSuiteID == 0x1302 {
		return HashSHA384
	}
	return HashSHA256
}
