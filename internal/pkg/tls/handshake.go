package tls

import "fmt"

// HandshakeType identifies a handshake message, per RFC 8446 §4.
type HandshakeType uint8

const (
	HandshakeTypeClientHello HandshakeType = 1
	HandshakeTypeServerHello HandshakeType = 2
	HandshakeTypeCertificate HandshakeType = 11
)

// handshakeHeaderLen is the 4-byte handshake message header: msg_type (1),
// length (3).
const handshakeHeaderLen = 4

// ClientHello holds the fields of a parsed ClientHello handshake message
// relevant to passive dissection: the negotiated-down legacy version,
// randomness, session identifiers, and the raw extension block (parsed
// lazily by GetSNI and friends).
type ClientHello struct {
	LegacyVersion      uint16
	Random             [32]byte
	SessionID          []byte
	CipherSuites       []uint16
	CompressionMethods []byte
	Extensions         []byte
}

// ServerHello holds the fields of a parsed ServerHello handshake message.
// In TLS 1.3, CipherSuite is the single suite the server selected (no
// cipher_suites list as in ClientHello).
type ServerHello struct {
	LegacyVersion     uint16
	Random            [32]byte
	SessionID         []byte
	CipherSuite       uint16
	CompressionMethod uint8
	Extensions        []byte
}

// ParseClientHello parses a ClientHello handshake message. handshakeBytes
// must start with the 4-byte handshake header (msg_type, length); the
// header is peeled off and the body after it is parsed.
func ParseClientHello(handshakeBytes []byte) (*ClientHello, error) {
	body, err := handshakeBody(handshakeBytes, HandshakeTypeClientHello)
	if err != nil {
		return nil, err
	}

	r := newReader(body)

	version, err := r.uint16()
	if err != nil {
		return nil, fmt.Errorf("%w: client_version: %v", ErrMalformedHandshake, err)
	}

	random, err := r.bytes(32)
	if err != nil {
		return nil, fmt.Errorf("%w: random: %v", ErrMalformedHandshake, err)
	}

	sessionID, err := r.bytes8()
	if err != nil {
		return nil, fmt.Errorf("%w: session_id: %v", ErrMalformedHandshake, err)
	}

	cipherSuiteBytes, err := r.bytes16()
	if err != nil {
		return nil, fmt.Errorf("%w: cipher_suites: %v", ErrMalformedHandshake, err)
	}
	cipherSuites, err := decodeUint16List(cipherSuiteBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: cipher_suites: %v", ErrMalformedHandshake, err)
	}

	compressionMethods, err := r.bytes8()
	if err != nil {
		return nil, fmt.Errorf("%w: compression_methods: %v", ErrMalformedHandshake, err)
	}

	var extensions []byte
	if r.remaining() > 0 {
		extensions, err = r.bytes16()
		if err != nil {
			return nil, fmt.Errorf("%w: extensions: %v", ErrMalformedHandshake, err)
		}
	}

	ch := &ClientHello{
		LegacyVersion:      version,
		SessionID:          sessionID,
		CipherSuites:       cipherSuites,
		CompressionMethods: compressionMethods,
		Extensions:         extensions,
	}
	copy(ch.Random[:], random)
	return ch, nil
}

// ParseServerHello parses a ServerHello handshake message body.
func ParseServerHello(handshakeBytes []byte) (*ServerHello, error) {
	body, err := handshakeBody(handshakeBytes, HandshakeTypeServerHello)
	if err != nil {
		return nil, err
	}

	r := newReader(body)

	version, err := r.uint16()
	if err != nil {
		return nil, fmt.Errorf("%w: server_version: %v", ErrMalformedHandshake, err)
	}

	random, err := r.bytes(32)
	if err != nil {
		return nil, fmt.Errorf("%w: random: %v", ErrMalformedHandshake, err)
	}

	sessionID, err := r.bytes8()
	if err != nil {
		return nil, fmt.Errorf("%w: session_id: %v", ErrMalformedHandshake, err)
	}

	cipherSuite, err := r.uint16()
	if err != nil {
		return nil, fmt.Errorf("%w: cipher_suite: %v", ErrMalformedHandshake, err)
	}

	compressionMethod, err := r.uint8()
	if err != nil {
		return nil, fmt.Errorf("%w: compression_method: %v", ErrMalformedHandshake, err)
	}

	var extensions []byte
	if r.remaining() > 0 {
		extensions, err = r.bytes16()
		if err != nil {
			return nil, fmt.Errorf("%w: extensions: %v", ErrMalformedHandshake, err)
		}
	}

	sh := &ServerHello{
		LegacyVersion:     version,
		SessionID:         sessionID,
		CipherSuite:       cipherSuite,
		CompressionMethod: compressionMethod,
		Extensions:        extensions,
	}
	copy(sh.Random[:], random)
	return sh, nil
}

// handshakeBody strips the 4-byte handshake header and returns the body
// it announces. It returns ErrTruncated if handshakeBytes is shorter than
// the header or the announced body, and ErrMalformedHandshake if msg_type
// is not want.
func handshakeBody(handshakeBytes []byte, want HandshakeType) ([]byte, error) {
	if len(handshakeBytes) < handshakeHeaderLen {
		return nil, fmt.Errorf("%w: handshake header", ErrTruncated)
	}

	msgType := HandshakeType(handshakeBytes[0])
	if msgType != want {
		return nil, fmt.Errorf("%w: expected handshake type %d, got %d", ErrMalformedHandshake, want, msgType)
	}

	length := int(handshakeBytes[1])<<16 | int(handshakeBytes[2])<<8 | int(handshakeBytes[3])
	if len(handshakeBytes)-handshakeHeaderLen < length {
		return nil, fmt.Errorf("%w: handshake body", ErrTruncated)
	}

	return handshakeBytes[handshakeHeaderLen : handshakeHeaderLen+length], nil
}

func decodeUint16List(b []byte) ([]uint16, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("odd-length uint16 list")
	}
	out := make([]uint16, 0, len(b)/2)
	for i := 0; i < len(b); i += 2 {
		out = append(out, uint16(b[i])<<8|uint16(b[i+1]))
	}
	return out, nil
}
