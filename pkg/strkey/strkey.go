// Package strkey encodes Ed25519 public keys as Stellar account addresses:
// a version byte, the 32 raw key bytes and a CRC16-XModem checksum, base32
// encoded without padding. Account addresses start with G and are 56 chars.
package strkey

import (
	"encoding/base32"
	"errors"
	"fmt"
)

// versionAccountID is the account-id version byte (6 << 3, base32 'G').
const versionAccountID byte = 48

// AddressLen is the length of an encoded account address.
const AddressLen = 56

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

var (
	// ErrInvalidAddress is returned for malformed account addresses.
	ErrInvalidAddress = errors.New("invalid account address")
	// ErrBadChecksum is returned when the address checksum does not match.
	ErrBadChecksum = errors.New("account address checksum mismatch")
)

// Encode renders a 32-byte Ed25519 public key as a G... account address.
func Encode(publicKey []byte) (string, error) {
	if len(publicKey) != 32 {
		return "", fmt.Errorf("%w: key must be 32 bytes", ErrInvalidAddress)
	}
	payload := make([]byte, 0, 35)
	payload = append(payload, versionAccountID)
	payload = append(payload, publicKey...)
	crc := checksum(payload)
	payload = append(payload, byte(crc&0xff), byte(crc>>8))
	return encoding.EncodeToString(payload), nil
}

// Decode parses a G... account address back into the raw 32-byte key.
func Decode(address string) ([]byte, error) {
	if len(address) != AddressLen || address[0] != 'G' {
		return nil, ErrInvalidAddress
	}
	payload, err := encoding.DecodeString(address)
	if err != nil {
		return nil, ErrInvalidAddress
	}
	if len(payload) != 35 || payload[0] != versionAccountID {
		return nil, ErrInvalidAddress
	}
	body := payload[:33]
	want := uint16(payload[33]) | uint16(payload[34])<<8
	if checksum(body) != want {
		return nil, ErrBadChecksum
	}
	key := make([]byte, 32)
	copy(key, payload[1:33])
	return key, nil
}

// IsValid reports whether the address decodes cleanly.
func IsValid(address string) bool {
	_, err := Decode(address)
	return err == nil
}

// checksum is CRC16-XModem (poly 0x1021, initial 0).
func checksum(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
