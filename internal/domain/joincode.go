package domain

import (
	"crypto/rand"
	"math/big"
	"net/url"
	"strings"
)

// RoomCodeLength is the number of characters in a join code.
const RoomCodeLength = 6

// codeAlphabet leaves out characters that are easy to misread (0/O, 1/I).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewRoomCode returns a random uppercase join code.
func NewRoomCode() string {
	var b strings.Builder
	b.Grow(RoomCodeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < RoomCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand does not fail on supported platforms.
			panic(err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String()
}

// ParseJoinCode extracts a join code from a bare code or a link carrying a
// "room" query parameter, and normalizes it to upper case.
func ParseJoinCode(input string) string {
	raw := strings.TrimSpace(input)
	if strings.Contains(raw, "room=") {
		if u, err := url.Parse(raw); err == nil {
			if code := u.Query().Get("room"); code != "" {
				raw = code
			}
		}
	}
	return strings.ToUpper(strings.TrimSpace(raw))
}
