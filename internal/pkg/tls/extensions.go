package tls

import (
	"errors"
	"fmt"
	"strings"
)

// Extension types relevant to passive dissection, per RFC 8446 §4.2 and
// RFC 6066 §3 for server_name.
const (
	ExtensionServerName          uint16 = 0
	ExtensionSupportedVersions   uint16 = 43
	ExtensionKeyShare            uint16 = 51
	ExtensionPreSharedKey        uint16 = 41
)

const serverNameTypeHostName = 0

// Extension is a single TLS extension as it appears in the extensions
// block of a ClientHello or ServerHello.
type Extension struct {
	Type uint16
	Data []byte
}

// ParseExtensions walks a raw extensions block (the bytes following the
// 2-byte extensions-list length, i.e. ClientHello.Extensions or
// ServerHello.Extensions as returned by this package) into individual
// Extension values.
func ParseExtensions(data []byte) ([]Extension, error) {
	r := newReader(data)
	var extensions []Extension

	for r.remaining() > 0 {
		extType, err := r.uint16()
		if err != nil {
			return nil, fmt.Errorf("%w: extension type: %v", ErrMalformedHandshake, err)
		}
		extData, err := r.bytes16()
		if err != nil {
			return nil, fmt.Errorf("%w: extension data: %v", ErrMalformedHandshake, err)
		}
		extensions = append(extensions, Extension{Type: extType, Data: extData})
	}

	return extensions, nil
}

// GetSNI extracts the hostname from a ClientHello's server_name
// extension, per RFC 6066 §3. Returns ErrSNIAbsent if the extension is
// not present.
func GetSNI(ch *ClientHello) (string, error) {
	extensions, err := ParseExtensions(ch.Extensions)
	if err != nil {
		return "", err
	}

	for _, ext := range extensions {
		if ext.Type != ExtensionServerName {
			continue
		}
		return parseServerNameExtension(ext.Data)
	}

	return "", ErrSNIAbsent
}

// HasSNI reports whether ch's server_name extension is exactly host.
func HasSNI(ch *ClientHello, host string) (bool, error) {
	sni, err := GetSNI(ch)
	if err != nil {
		if errors.Is(err, ErrSNIAbsent) {
			return false, nil
		}
		return false, err
	}
	return sni == host, nil
}

// SNIContains reports whether ch's server_name extension contains host as
// a substring.
func SNIContains(ch *ClientHello, host string) (bool, error) {
	sni, err := GetSNI(ch)
	if err != nil {
		if errors.Is(err, ErrSNIAbsent) {
			return false, nil
		}
		return false, err
	}
	return strings.Contains(sni, host), nil
}

// parseServerNameExtension parses the ServerNameList structure:
//
//	struct {
//	    ServerName server_name_list<1..2^16-1>
//	} ServerNameList;
//
//	struct {
//	    NameType name_type;
//	    select (name_type) {
//	        case host_name: HostName;
//	    } name;
//	} ServerName;
func parseServerNameExtension(data []byte) (string, error) {
	r := newReader(data)

	list, err := r.bytes16()
	if err != nil {
		return "", fmt.Errorf("%w: server_name_list: %v", ErrMalformedHandshake, err)
	}

	lr := newReader(list)
	for lr.remaining() > 0 {
		nameType, err := lr.uint8()
		if err != nil {
			return "", fmt.Errorf("%w: name_type: %v", ErrMalformedHandshake, err)
		}
		name, err := lr.bytes16()
		if err != nil {
			return "", fmt.Errorf("%w: host_name: %v", ErrMalformedHandshake, err)
		}
		if nameType == serverNameTypeHostName {
			return string(name), nil
		}
	}

	return "", ErrSNIAbsent
}
