// Package keylog parses and stores TLS 1.3 session secrets from
// SSLKEYLOGFILE-format key log files, the NSS format used by browsers
// and consumed by Wireshark.
//
// Format: <label> <client_random_hex> <secret_hex>
//
// Only the five TLS 1.3 labels below are recognized:
//   - CLIENT_HANDSHAKE_TRAFFIC_SECRET
//   - SERVER_HANDSHAKE_TRAFFIC_SECRET
//   - CLIENT_TRAFFIC_SECRET_0
//   - SERVER_TRAFFIC_SECRET_0
//   - EXPORTER_SECRET
//
// CLIENT_RANDOM, which logs a TLS 1.2 premaster secret, and the TLS 1.3
// 0-RTT/early-exporter labels are treated as unknown and skipped: deriving
// keys from a premaster secret and TLS 1.2 decryption are both out of
// scope for this module.
package keylog

// LabelType identifies the kind of secret recorded by a key log entry.
type LabelType int

const (
	// LabelUnknown indicates an unrecognized or out-of-scope label.
	LabelUnknown LabelType = iota

	// LabelClientHandshakeTrafficSecret decrypts client handshake messages
	// sent after ServerHello.
	LabelClientHandshakeTrafficSecret

	// LabelServerHandshakeTrafficSecret decrypts server handshake messages
	// sent after ServerHello.
	LabelServerHandshakeTrafficSecret

	// LabelClientTrafficSecret0 decrypts client application data.
	LabelClientTrafficSecret0

	// LabelServerTrafficSecret0 decrypts server application data.
	LabelServerTrafficSecret0

	// LabelExporterSecret is keying material for application-level export.
	LabelExporterSecret
)

// String returns the NSS key log format label string.
func (l LabelType) String() string {
	switch l {
	case LabelClientHandshakeTrafficSecret:
		return "CLIENT_HANDSHAKE_TRAFFIC_SECRET"
	case LabelServerHandshakeTrafficSecret:
		return "SERVER_HANDSHAKE_TRAFFIC_SECRET"
	case LabelClientTrafficSecret0:
		return "CLIENT_TRAFFIC_SECRET_0"
	case LabelServerTrafficSecret0:
		return "SERVER_TRAFFIC_SECRET_0"
	case LabelExporterSecret:
		return "EXPORTER_SECRET"
	default:
		return "UNKNOWN"
	}
}

// IsTLS13 returns true, reflecting that every recognized label belongs to
// the TLS 1.3 key schedule.
func (l LabelType) IsTLS13() bool {
	return l != LabelUnknown
}

// ParseLabel parses a label string into a LabelType. Anything outside the
// closed set of five recognized labels, including CLIENT_RANDOM, maps to
// LabelUnknown.
func ParseLabel(s string) LabelType {
	switch s {
	case "CLIENT_HANDSHAKE_TRAFFIC_SECRET":
		return LabelClientHandshakeTrafficSecret
	case "SERVER_HANDSHAKE_TRAFFIC_SECRET":
		return LabelServerHandshakeTrafficSecret
	case "CLIENT_TRAFFIC_SECRET_0":
		return LabelClientTrafficSecret0
	case "SERVER_TRAFFIC_SECRET_0":
		return LabelServerTrafficSecret0
	case "EXPORTER_SECRET":
		return LabelExporterSecret
	default:
		return LabelUnknown
	}
}

// KeyEntry represents a single entry from a TLS key log file.
type KeyEntry struct {
	// Label identifies the type of secret.
	Label LabelType

	// ClientRandom is the 32-byte client random value from the ClientHello.
	// This is used to correlate the key entry with a TLS session.
	ClientRandom [32]byte

	// Secret is the raw secret, 32 or 48 bytes depending on whether the
	// session's cipher suite hashes with SHA-256 or SHA-384.
	Secret []byte
}

// ClientRandomHex returns the client random as a hex string.
func (e *KeyEntry) ClientRandomHex() string {
	return bytesToHex(e.ClientRandom[:])
}

// SecretHex returns the secret as a hex string.
func (e *KeyEntry) SecretHex() string {
	return bytesToHex(e.Secret)
}

// bytesToHex converts bytes to lowercase hex string.
func bytesToHex(b []byte) string {
	const hexChars = "0123456789abcdef"
	result := make([]byte, len(b)*2)
	for i, v := range b {
		result[i*2] = hexChars[v>>4]
		result[i*2+1] = hexChars[v&0x0f]
	}
	return string(result)
}

// SessionKeys holds all recognized secrets for a TLS 1.3 session, indexed
// by client random.
type SessionKeys struct {
	// ClientRandom is the session identifier.
	ClientRandom [32]byte

	ClientHandshakeTrafficSecret []byte
	ServerHandshakeTrafficSecret []byte
	ClientTrafficSecret0         []byte
	ServerTrafficSecret0         []byte
	ExporterSecret               []byte
}

// IsTLS13 returns true if this session has at least one recognized secret.
func (s *SessionKeys) IsTLS13() bool {
	return len(s.ClientHandshakeTrafficSecret) > 0 ||
		len(s.ServerHandshakeTrafficSecret) > 0 ||
		len(s.ClientTrafficSecret0) > 0 ||
		len(s.ServerTrafficSecret0) > 0 ||
		len(s.ExporterSecret) > 0
}

// HasDecryptionKeys returns true if this session has both application
// traffic secrets, the minimum needed to decrypt application data in
// both directions.
func (s *SessionKeys) HasDecryptionKeys() bool {
	return len(s.ClientTrafficSecret0) > 0 && len(s.ServerTrafficSecret0) > 0
}

// IsComplete returns true if this session has all five recognized
// secrets logged.
func (s *SessionKeys) IsComplete() bool {
	return len(s.ClientHandshakeTrafficSecret) > 0 &&
		len(s.ServerHandshakeTrafficSecret) > 0 &&
		len(s.ClientTrafficSecret0) > 0 &&
		len(s.ServerTrafficSecret0) > 0 &&
		len(s.ExporterSecret) > 0
}

// Secret returns the raw secret for label, or nil if absent.
func (s *SessionKeys) Secret(label LabelType) []byte {
	switch label {
	case LabelClientHandshakeTrafficSecret:
		return s.ClientHandshakeTrafficSecret
	case LabelServerHandshakeTrafficSecret:
		return s.ServerHandshakeTrafficSecret
	case LabelClientTrafficSecret0:
		return s.ClientTrafficSecret0
	case LabelServerTrafficSecret0:
		return s.ServerTrafficSecret0
	case LabelExporterSecret:
		return s.ExporterSecret
	default:
		return nil
	}
}

// AddEntry adds a key entry to this session.
func (s *SessionKeys) AddEntry(entry *KeyEntry) {
	switch entry.Label {
	case LabelClientHandshakeTrafficSecret:
		s.ClientHandshakeTrafficSecret = entry.Secret
	case LabelServerHandshakeTrafficSecret:
		s.ServerHandshakeTrafficSecret = entry.Secret
	case LabelClientTrafficSecret0:
		s.ClientTrafficSecret0 = entry.Secret
	case LabelServerTrafficSecret0:
		s.ServerTrafficSecret0 = entry.Secret
	case LabelExporterSecret:
		s.ExporterSecret = entry.Secret
	}
}
