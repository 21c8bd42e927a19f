package gatekeeper

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"regexp"
)

// HexCodeGenerator produces display identifiers
type HexCodeGenerator func() string

var hexCodePattern = regexp.MustCompile(`^#[0-9A-F]{6}$`)

// GenerateHexCode returns a random upper-case #RRGGBB token. The 24 bit space
// is not checked for collisions.
func GenerateHexCode() string {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(err)
	}
	n := binary.BigEndian.Uint32(buf[:]) & 0xFFFFFF
	return fmt.Sprintf("#%06X", n)
}

// IsHexCode reports whether s is a valid display identifier
func IsHexCode(s string) bool {
	return hexCodePattern.MatchString(s)
}

// HexCodeInitials is the short label shown inside avatar bubbles
func HexCodeInitials(hex string) string {
	if len(hex) < 4 {
		return "..."
	}
	return hex[1:4]
}
