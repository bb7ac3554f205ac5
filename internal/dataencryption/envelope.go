// Package dataencryption provides the ASEV envelope format and the Service that
// routes slot values to encryption providers.
//
// Wire format:
//
//	[4 bytes: 0x41 0x53 0x45 0x56]  "ASEV" magic
//	[varint: header byte length]
//	[header, protobuf wire encoding]
//	    1: version     (varint)
//	    2: provider_id (bytes)
//	    3: nonce       (bytes)
//	    4: key_id      (bytes)
//	[ciphertext bytes]
package dataencryption

import (
	"bytes"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

var magic = [4]byte{0x41, 0x53, 0x45, 0x56} // "ASEV"

const (
	fieldVersion    protowire.Number = 1
	fieldProviderID protowire.Number = 2
	fieldNonce      protowire.Number = 3
	fieldKeyID      protowire.Number = 4
)

// maxHeaderLen bounds a crafted header advertising a huge length. Real headers
// are a few dozen bytes.
const maxHeaderLen = 4096

// Header is the decoded envelope header.
type Header struct {
	Version    uint32
	ProviderID string
	Nonce      []byte
	// KeyID identifies the data key that sealed the payload.
	KeyID string
}

// HasMagic reports whether b starts with the ASEV magic bytes.
func HasMagic(b []byte) bool {
	return len(b) >= 4 && [4]byte(b[:4]) == magic
}

func marshalHeader(h Header) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.Version))
	b = protowire.AppendTag(b, fieldProviderID, protowire.BytesType)
	b = protowire.AppendString(b, h.ProviderID)
	if len(h.Nonce) > 0 {
		b = protowire.AppendTag(b, fieldNonce, protowire.BytesType)
		b = protowire.AppendBytes(b, h.Nonce)
	}
	if h.KeyID != "" {
		b = protowire.AppendTag(b, fieldKeyID, protowire.BytesType)
		b = protowire.AppendString(b, h.KeyID)
	}
	return b
}

func unmarshalHeader(b []byte) (*Header, error) {
	h := &Header{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			h.Version = uint32(v)
			b = b[n:]
		case num == fieldProviderID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			h.ProviderID = v
			b = b[n:]
		case num == fieldNonce && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			h.Nonce = bytes.Clone(v)
			b = b[n:]
		case num == fieldKeyID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			h.KeyID = v
			b = b[n:]
		default:
			// Unknown fields are skipped so newer writers stay readable.
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return h, nil
}

// WriteHeader encodes h as an envelope prefix and writes it to w.
func WriteHeader(w io.Writer, h Header) error {
	hdr := marshalHeader(h)
	buf := make([]byte, 0, 4+protowire.SizeVarint(uint64(len(hdr)))+len(hdr))
	buf = append(buf, magic[:]...)
	buf = protowire.AppendVarint(buf, uint64(len(hdr)))
	buf = append(buf, hdr...)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads the magic, length and header fields from r.
// Returns (header, true, nil) on success, (nil, false, nil) if magic is absent,
// or (nil, true, err) when the magic is present but the header is malformed.
func ReadHeader(r io.Reader) (*Header, bool, error) {
	var mgc [4]byte
	if _, err := io.ReadFull(r, mgc[:]); err != nil {
		return nil, false, nil
	}
	if mgc != magic {
		return nil, false, nil
	}
	hdrLen, err := readVarint(r)
	if err != nil {
		return nil, true, fmt.Errorf("envelope: reading header length: %w", err)
	}
	if hdrLen > maxHeaderLen {
		return nil, true, fmt.Errorf("envelope: header length %d exceeds maximum %d", hdrLen, maxHeaderLen)
	}
	hdr := make([]byte, hdrLen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, true, fmt.Errorf("envelope: reading header: %w", err)
	}
	h, err := unmarshalHeader(hdr)
	if err != nil {
		return nil, true, fmt.Errorf("envelope: decoding header: %w", err)
	}
	return h, true, nil
}

func readVarint(r io.Reader) (uint64, error) {
	var v uint64
	var buf [1]byte
	for i := range 5 {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		v |= uint64(buf[0]&0x7F) << (7 * uint(i))
		if buf[0]&0x80 == 0 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("envelope: varint overflow")
}
