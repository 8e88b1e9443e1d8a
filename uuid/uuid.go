package uuid

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	ErrInvalidFormat = errors.New("uuid: invalid format")
)

type UUID [16]byte

var Nil UUID

func NewV4() (UUID, error) {
	var uuid UUID

	if _, err := rand.Read(uuid[:]); err != nil {
		return Nil, err
	}

	uuid[6] = (uuid[6] & 0x0f) | 0x40 // Version 4
	uuid[8] = (uuid[8] & 0x3f) | 0x80 // Variant is 10

	return uuid, nil
}

func Parse(s string) (UUID, error) {
	var uuid UUID

	switch len(s) {
	case 36:
	case 36 + 9:
		if !strings.EqualFold(s[:9], "urn:uuid:") {
			return Nil, ErrInvalidFormat
		}
		s = s[9:]
	default:
		return Nil, ErrInvalidFormat
	}

	if s[8] != '-' || s[13] != '-' || s[18] != '-' || s[23] != '-' {
		return Nil, ErrInvalidFormat
	}

	groups := [5][2]int{{0, 8}, {9, 13}, {14, 18}, {19, 23}, {24, 36}}
	offset := 0
	for _, g := range groups {
		n, err := hex.Decode(uuid[offset:], []byte(s[g[0]:g[1]]))
		if err != nil {
			return Nil, ErrInvalidFormat
		}
		offset += n
	}

	return uuid, nil
}

func (uuid UUID) String() string {
	var buf [36]byte

	hex.Encode(buf[:], uuid[:4])
	buf[8] = '-'
	hex.Encode(buf[9:13], uuid[4:6])
	buf[13] = '-'
	hex.Encode(buf[14:18], uuid[6:8])
	buf[18] = '-'
	hex.Encode(buf[19:23], uuid[8:10])
	buf[23] = '-'
	hex.Encode(buf[24:], uuid[10:])

	return string(buf[:])
}

func (uuid UUID) Version() byte {
	return uuid[6] >> 4
}

func (uuid UUID) MarshalText() ([]byte, error) {
	return []byte(uuid.String()), nil
}

func (uuid *UUID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*uuid = parsed
	return nil
}
