package tls

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"
)

// JA3 and JA3S are MD5 fingerprints of the ordered ClientHello/ServerHello
// field tuples defined by Salesforce's JA3 project, used to identify TLS
// client and server implementations independent of SNI. GREASE values
// (RFC 8701) are excluded from every list, since they're randomized
// padding rather than real capability signals.

const (
	extSupportedGroups  uint16 = 10
	extECPointFormats   uint16 = 11
)

// IsGREASE reports whether v is one of the reserved GREASE values, which
// follow the pattern 0x?a?a.
func IsGREASE(v uint16) bool {
	switch v {
	case 0x0a0a, 0x1a1a, 0x2a2a, 0x3a3a, 0x4a4a, 0x5a5a, 0x6a6a, 0x7a7a,
		0x8a8a, 0x9a9a, 0xaaaa, 0xbaba, 0xcaca, 0xdada, 0xeaea, 0xfafa:
		return true
	default:
		return false
	}
}

// JA3 computes the JA3 fingerprint of a ClientHello.
func JA3(ch *ClientHello) (string, error) {
	extensions, err := ParseExtensions(ch.Extensions)
	if err != nil {
		return "", err
	}

	ciphers := filterGREASE(ch.CipherSuites)

	var extTypes []uint16
	var ellipticCurves []uint16
	var pointFormats []uint16

	for _, ext := range extensions {
		if !IsGREASE(ext.Type) {
			extTypes = append(extTypes, ext.Type)
		}
		switch ext.Type {
		case extSupportedGroups:
			groups, err := decodeUint16ListWithLength(ext.Data)
			if err == nil {
				ellipticCurves = filterGREASE(groups)
			}
		case extECPointFormats:
			r := newReader(ext.Data)
			if formats, err := r.bytes8(); err == nil {
				for _, f := range formats {
					pointFormats = append(pointFormats, uint16(f))
				}
			}
		}
	}

	ja3String := strings.Join([]string{
		strconv.Itoa(int(ch.LegacyVersion)),
		joinUint16(ciphers),
		joinUint16(extTypes),
		joinUint16(ellipticCurves),
		joinUint16(pointFormats),
	}, ",")

	return md5Hex(ja3String), nil
}

// JA3S computes the JA3S fingerprint of a ServerHello.
func JA3S(sh *ServerHello) (string, error) {
	extensions, err := ParseExtensions(sh.Extensions)
	if err != nil {
		return "", err
	}

	var extTypes []uint16
	for _, ext := range extensions {
		if !IsGREASE(ext.Type) {
			extTypes = append(extTypes, ext.Type)
		}
	}

	ja3sString := strings.Join([]string{
		strconv.Itoa(int(sh.LegacyVersion)),
		strconv.Itoa(int(sh.CipherSuite)),
		joinUint16(extTypes),
	}, ",")

	return md5Hex(ja3sString), nil
}

func filterGREASE(values []uint16) []uint16 {
	out := make([]uint16, 0, len(values))
	for _, v := range values {
		if !IsGREASE(v) {
			out = append(out, v)
		}
	}
	return out
}

func joinUint16(values []uint16) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(int(v))
	}
	return strings.Join(parts, "-")
}

func decodeUint16ListWithLength(data []byte) ([]uint16, error) {
	r := newReader(data)
	list, err := r.bytes16()
	if err != nil {
		return nil, err
	}
	return decodeUint16List(list)
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
