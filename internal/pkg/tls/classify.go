package tls

// IsTLS reports whether payload begins with a plausible TLS record
// header: a recognized content type and a legacy version in the TLS
// family (0x03, minor).
func IsTLS(payload []byte) bool {
	if len(payload) < recordHeaderLen {
		return false
	}
	if !isRecognizedContentType(ContentType(payload[0])) {
		return false
	}
	return payload[1] == 0x03
}

// IsHandshake reports whether r carries a handshake message.
func IsHandshake(r Record) bool {
	return r.ContentType == ContentTypeHandshake
}

// IsClientHello reports whether r is a handshake record whose first
// message is a ClientHello.
func IsClientHello(r Record) bool {
	return IsHandshake(r) && len(r.Payload) > 0 && HandshakeType(r.Payload[0]) == HandshakeTypeClientHello
}

// IsServerHello reports whether r is a handshake record whose first
// message is a ServerHello.
func IsServerHello(r Record) bool {
	return IsHandshake(r) && len(r.Payload) > 0 && HandshakeType(r.Payload[0]) == HandshakeTypeServerHello
}

// IsAlert reports whether r carries a TLS alert.
func IsAlert(r Record) bool {
	return r.ContentType == ContentTypeAlert
}

// IsApplicationData reports whether r carries application data. For TLS
// 1.3, this is also true of every post-handshake protected record
// (handshake messages sent after ServerHello are wrapped in
// application_data records and only reveal their real content type after
// decryption).
func IsApplicationData(r Record) bool {
	return r.ContentType == ContentTypeApplicationData
}

// IsChangeCipherSpec reports whether r is a ChangeCipherSpec record.
func IsChangeCipherSpec(r Record) bool {
	return r.ContentType == ContentTypeChangeCipherSpec
}
