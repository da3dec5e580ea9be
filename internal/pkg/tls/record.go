package tls

import (
	"fmt"
)

// ContentType identifies the kind of data carried by a TLS record, per
// RFC 8446 §5.1.
type ContentType uint8

const (
	ContentTypeChangeCipherSpec ContentType = 0x14
	ContentTypeAlert            ContentType = 0x15
	ContentTypeHandshake        ContentType = 0x16
	ContentTypeApplicationData  ContentType = 0x17
)

func (c ContentType) String() string {
	switch c {
	case ContentTypeChangeCipherSpec:
		return "ChangeCipherSpec"
	case ContentTypeAlert:
		return "Alert"
	case ContentTypeHandshake:
		return "Handshake"
	case ContentTypeApplicationData:
		return "ApplicationData"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(c))
	}
}

// recordHeaderLen is the fixed 5-byte TLS record header: content_type (1),
// legacy_version (2), length (2).
const recordHeaderLen = 5

// maxRecordLength is the largest legal record payload, RFC 8446 §5.1: the
// plaintext limit plus the TLSInnerPlaintext/AEAD expansion allowance.
const maxRecordLength = (1 << 14) + 2048

// Record is a single TLS record as it appears on the wire: a content
// type, the legacy record version, and an opaque payload. For TLS 1.3
// protected records, ContentType is always ApplicationData and Version
// is always {3, 3}; the real content type is recovered only after
// decryption.
type Record struct {
	ContentType ContentType
	Version     uint16
	Payload     []byte

	// Header is the raw 5-byte wire header, preserved because AEAD
	// decryption uses it verbatim as associated data.
	Header [5]byte
}

// SplitRecords walks data and splits it into complete TLS records. Since
// TLS records can straddle TCP segment boundaries, trailing bytes that
// don't yet form a complete record are not consumed: SplitRecords returns
// how many trailing bytes belong to an incomplete record so the caller
// can re-feed from data[len(data)-remainderLen:] once more bytes arrive.
func SplitRecords(data []byte) (records []Record, remainderLen int, err error) {
	pos := 0

	for pos < len(data) {
		if len(data)-pos < recordHeaderLen {
			break
		}

		contentType := ContentType(data[pos])
		if !isRecognizedContentType(contentType) {
			return nil, 0, fmt.Errorf("%w: content type 0x%02x at offset %d", ErrMalformedRecord, data[pos], pos)
		}

		version := uint16(data[pos+1])<<8 | uint16(data[pos+2])
		length := int(data[pos+3])<<8 | int(data[pos+4])

		if length > maxRecordLength {
			return nil, 0, fmt.Errorf("%w: length %d exceeds maximum", ErrMalformedRecord, length)
		}

		if len(data)-pos-recordHeaderLen < length {
			// Incomplete record; leave it for the next call.
			break
		}

		var header [5]byte
		copy(header[:], data[pos:pos+recordHeaderLen])

		payloadStart := pos + recordHeaderLen
		records = append(records, Record{
			ContentType: contentType,
			Version:     version,
			Payload:     data[payloadStart : payloadStart+length],
			Header:      header,
		})

		pos = payloadStart + length
	}

	return records, len(data) - pos, nil
}

func isRecognizedContentType(c ContentType) bool {
	switch c {
	case ContentTypeChangeCipherSpec, ContentTypeAlert, ContentTypeHandshake, ContentTypeApplicationData:
		return true
	default:
		return false
	}
}
