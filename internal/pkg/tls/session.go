package tls

import (
	"fmt"

	"github.com/ntkit/tlsdissect/internal/pkg/tls/decrypt"
	"github.com/ntkit/tlsdissect/internal/pkg/tls/keylog"
)

// directionState holds the derived key material and running sequence
// number for one direction of a TLS 1.3 connection.
type directionState struct {
	key    []byte
	iv     []byte
	seqNum uint64
}

// Session drives TLS 1.3 record decryption for one connection: it knows
// which secret label to use for each direction and epoch (it starts on
// handshake traffic secrets and switches to application traffic secrets
// when EnterApplicationEpoch is called; ChangeCipherSpec records are not
// inspected), and it owns the per-direction sequence counters the AEAD
// nonce construction needs.
type Session struct {
	clientRandom [32]byte
	serverRandom [32]byte
	cipherSuite  uint16
	secrets      *keylog.SessionKeys

	handshakeEpoch bool // true until both directions have switched to traffic secrets

	client directionState
	server directionState
}

// NewSession builds a Session for a connection identified by its client
// and server randoms, once the negotiated cipher suite is known from the
// ServerHello.
func NewSession(clientRandom, serverRandom [32]byte, cipherSuite uint16, secrets *keylog.SessionKeys) (*Session, error) {
	suite := decrypt.LookupCipherSuite(cipherSuite)
	if suite == nil {
		return nil, fmt.Errorf("%w: 0x%04x", decrypt.ErrUnsupportedCipher, cipherSuite)
	}

	s := &Session{
		clientRandom:   clientRandom,
		serverRandom:   serverRandom,
		cipherSuite:    cipherSuite,
		secrets:        secrets,
		handshakeEpoch: true,
	}

	if err := s.enterEpoch(); err != nil {
		return nil, err
	}

	return s, nil
}

// enterEpoch (re)derives the client/server key and IV for the session's
// current epoch, resetting both sequence numbers to zero as RFC 8446
// §5.3 requires whenever the traffic secret changes.
func (s *Session) enterEpoch() error {
	clientLabel, serverLabel := keylog.LabelClientHandshakeTrafficSecret, keylog.LabelServerHandshakeTrafficSecret
	if !s.handshakeEpoch {
		clientLabel, serverLabel = keylog.LabelClientTrafficSecret0, keylog.LabelServerTrafficSecret0
	}

	clientSecret := s.secrets.Secret(clientLabel)
	if len(clientSecret) == 0 {
		return fmt.Errorf("%w: %s", decrypt.ErrSecretMissing, clientLabel)
	}
	serverSecret := s.secrets.Secret(serverLabel)
	if len(serverSecret) == 0 {
		return fmt.Errorf("%w: %s", decrypt.ErrSecretMissing, serverLabel)
	}

	clientMaterial, err := decrypt.DeriveKeyIV(clientSecret, s.cipherSuite)
	if err != nil {
		return err
	}
	serverMaterial, err := decrypt.DeriveKeyIV(serverSecret, s.cipherSuite)
	if err != nil {
		return err
	}

	s.client = directionState{key: clientMaterial.Key, iv: clientMaterial.IV}
	s.server = directionState{key: serverMaterial.Key, iv: serverMaterial.IV}

	return nil
}

// EnterApplicationEpoch switches the session from handshake traffic
// secrets to application traffic secrets, per the TLS 1.3 rule that
// encryption begins immediately after ServerHello using handshake
// secrets, then switches once the handshake Finished messages are sent.
func (s *Session) EnterApplicationEpoch() error {
	s.handshakeEpoch = false
	return s.enterEpoch()
}

// DecryptRecord decrypts a single protected record for the given
// direction, advancing that direction's sequence number on success.
func (s *Session) DecryptRecord(direction decrypt.Direction, r Record) (plaintext []byte, contentType ContentType, err error) {
	suite := decrypt.LookupCipherSuite(s.cipherSuite)
	if suite == nil {
		return nil, 0, fmt.Errorf("%w: 0x%04x", decrypt.ErrUnsupportedCipher, s.cipherSuite)
	}

	state := &s.client
	if direction == decrypt.DirectionServer {
		state = &s.server
	}

	inner, realType, err := decrypt.DecryptRecord(suite, state.key, state.iv, state.seqNum, r.Header, r.Payload)
	if err != nil {
		return nil, 0, err
	}

	state.seqNum++
	return inner, ContentType(realType), nil
}

// DecryptRecords decrypts every application-data record in records for
// the given direction, in order, stopping at the first decryption
// failure. It mirrors decrypt_tls_data's bulk-decrypt convenience but
// returns decrypted Records directly instead of threading key material
// through free functions — the Session already owns that state.
func (s *Session) DecryptRecords(direction decrypt.Direction, records []Record) ([]Record, error) {
	out := make([]Record, 0, len(records))

	for _, r := range records {
		if !IsApplicationData(r) {
			out = append(out, r)
			continue
		}

		plaintext, contentType, err := s.DecryptRecord(direction, r)
		if err != nil {
			return out, err
		}

		out = append(out, Record{
			ContentType: contentType,
			Version:     r.Version,
			Payload:     plaintext,
			Header:      r.Header,
		})
	}

	return out, nil
}
