package tls

import (
	"crypto/aes"
	"crypto/cipher"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ntkit/tlsdissect/internal/pkg/tls/decrypt"
	"github.com/ntkit/tlsdissect/internal/pkg/tls/keylog"
)

func sealForTest(t *testing.T, key, iv []byte, seqNum uint64, header [5]byte, innerPlaintext []byte) []byte {
	t.Helper()

	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	aead, err := cipher.NewGCM(block)
	require.NoError(t, err)

	nonce := decrypt.ConstructNonce(iv, seqNum)
	return aead.Seal(nil, nonce, innerPlaintext, header[:])
}

func TestNewSessionUnsupportedCipher(t *testing.T) {
	secrets := &keylog.SessionKeys{
		ClientHandshakeTrafficSecret: make([]byte, 32),
		ServerHandshakeTrafficSecret: make([]byte, 32),
	}

	_, err := NewSession([32]byte{}, [32]byte{}, 0x0035, secrets)
	assert.ErrorIs(t, err, decrypt.ErrUnsupportedCipher)
}

func TestNewSessionMissingSecret(t *testing.T) {
	secrets := &keylog.SessionKeys{
		ClientHandshakeTrafficSecret: make([]byte, 32),
		// server secret absent
	}

	_, err := NewSession([32]byte{}, [32]byte{}, 0x1301, secrets)
	assert.ErrorIs(t, err, decrypt.ErrSecretMissing)
}

func TestSessionDecryptRecordRoundTrip(t *testing.T) {
	clientSecret := make([]byte, 32)
	serverSecret := make([]byte, 32)
	for i := range serverSecret {
		serverSecret[i] = byte(i + 1)
	}

	secrets := &keylog.SessionKeys{
		ClientHandshakeTrafficSecret: clientSecret,
		ServerHandshakeTrafficSecret: serverSecret,
	}

	session, err := NewSession([32]byte{}, [32]byte{}, 0x1301, secrets)
	require.NoError(t, err)

	material := decrypt.DeriveTrafficKeys(serverSecret, decrypt.LookupCipherSuite(0x1301))

	header := [5]byte{0x17, 0x03, 0x03, 0x00, 0x20}
	inner := append([]byte("server hello in disguise"), 0x16) // real type: handshake

	ciphertext := sealForTest(t, material.Key, material.IV, 0, header, inner)

	plaintext, contentType, err := session.DecryptRecord(decrypt.DirectionServer, Record{Header: header, Payload: ciphertext})
	require.NoError(t, err)
	assert.Equal(t, ContentTypeHandshake, contentType)
	assert.Equal(t, "server hello in disguise", string(plaintext))
}

func TestSessionDecryptRecordAdvancesSequenceNumber(t *testing.T) {
	clientSecret := make([]byte, 32)
	serverSecret := make([]byte, 32)

	secrets := &keylog.SessionKeys{
		ClientHandshakeTrafficSecret: clientSecret,
		ServerHandshakeTrafficSecret: serverSecret,
	}

	session, err := NewSession([32]byte{}, [32]byte{}, 0x1301, secrets)
	require.NoError(t, err)

	material := decrypt.DeriveTrafficKeys(serverSecret, decrypt.LookupCipherSuite(0x1301))
	header := [5]byte{0x17, 0x03, 0x03, 0x00, 0x10}
	inner := append([]byte("rec0"), 0x17)

	ciphertext0 := sealForTest(t, material.Key, material.IV, 0, header, inner)
	_, _, err = session.DecryptRecord(decrypt.DirectionServer, Record{Header: header, Payload: ciphertext0})
	require.NoError(t, err)

	// Replaying sequence number 0 again must now fail: the session has
	// advanced to expecting sequence number 1.
	_, _, err = session.DecryptRecord(decrypt.DirectionServer, Record{Header: header, Payload: ciphertext0})
	assert.ErrorIs(t, err, decrypt.ErrAEADFailure)
}

func TestSessionEnterApplicationEpochSwitchesSecretsAndResetsSequence(t *testing.T) {
	handshakeSecret := make([]byte, 32)
	for i := range handshakeSecret {
		handshakeSecret[i] = byte(i)
	}
	appSecret := make([]byte, 32)
	for i := range appSecret {
		appSecret[i] = byte(i + 100)
	}

	secrets := &keylog.SessionKeys{
		ClientHandshakeTrafficSecret: handshakeSecret,
		ServerHandshakeTrafficSecret: handshakeSecret,
		ClientTrafficSecret0:         appSecret,
		ServerTrafficSecret0:         appSecret,
	}

	session, err := NewSession([32]byte{}, [32]byte{}, 0x1301, secrets)
	require.NoError(t, err)

	// Advance the client sequence number to 1 in the handshake epoch.
	handshakeMaterial := decrypt.DeriveTrafficKeys(handshakeSecret, decrypt.LookupCipherSuite(0x1301))
	hsHeader := [5]byte{0x17, 0x03, 0x03, 0x00, 0x14}
	hsCiphertext := sealForTest(t, handshakeMaterial.Key, handshakeMaterial.IV, 0, hsHeader, append([]byte("hs0"), 0x16))
	_, _, err = session.DecryptRecord(decrypt.DirectionClient, Record{Header: hsHeader, Payload: hsCiphertext})
	require.NoError(t, err)

	require.NoError(t, session.EnterApplicationEpoch())

	material := decrypt.DeriveTrafficKeys(appSecret, decrypt.LookupCipherSuite(0x1301))
	header := [5]byte{0x17, 0x03, 0x03, 0x00, 0x10}
	inner := append([]byte("app0"), 0x17)

	ciphertext := sealForTest(t, material.Key, material.IV, 0, header, inner)
	plaintext, _, err := session.DecryptRecord(decrypt.DirectionClient, Record{Header: header, Payload: ciphertext})
	require.NoError(t, err)
	assert.Equal(t, "app0", string(plaintext))
}

func TestSessionDecryptRecordsSkipsNonApplicationRecords(t *testing.T) {
	clientSecret := make([]byte, 32)
	serverSecret := make([]byte, 32)

	secrets := &keylog.SessionKeys{
		ClientHandshakeTrafficSecret: clientSecret,
		ServerHandshakeTrafficSecret: serverSecret,
	}

	session, err := NewSession([32]byte{}, [32]byte{}, 0x1301, secrets)
	require.NoError(t, err)

	ccs := Record{ContentType: ContentTypeChangeCipherSpec, Payload: []byte{0x01}}

	out, err := session.DecryptRecords(decrypt.DirectionServer, []Record{ccs})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, ccs, out[0])
}
