package tls

import "errors"

// Sentinel errors returned by this package's parsing and classification
// functions. Callers should use errors.Is against these rather than
// matching message text; call sites wrap them with fmt.Errorf("%w: ...").
var (
	// ErrTruncated indicates fewer bytes were available than a length
	// field or fixed-size structure requires.
	ErrTruncated = errors.New("truncated TLS data")

	// ErrMalformedRecord indicates a record header failed to parse (for
	// example, a content type outside the recognized range).
	ErrMalformedRecord = errors.New("malformed TLS record")

	// ErrMalformedHandshake indicates a handshake message body failed to
	// parse according to its expected structure.
	ErrMalformedHandshake = errors.New("malformed TLS handshake message")

	// ErrSNIAbsent indicates a ClientHello has no server_name extension.
	ErrSNIAbsent = errors.New("no SNI extension present")
)
