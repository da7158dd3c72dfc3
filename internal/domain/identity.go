package domain

import (
	"regexp"
	"strings"
)

// World is the pseudo-entity Quake 3 credits with environmental deaths.
// It is never stored as a player.
const World = "<world>"

// colorCodeRegex matches Quake 3 color codes: ^1 style and the extended
// ^xRRGGBB hex form used by OSP/CPMA derived mods.
var colorCodeRegex = regexp.MustCompile(`\^(x[0-9a-fA-F]{6}|[0-9])`)

// StripColors removes color codes from a player name, keeping the raw
// form otherwise intact.
func StripColors(name string) string {
	return colorCodeRegex.ReplaceAllString(name, "")
}

// IdentityKey computes the canonical identity of a display name: color
// codes stripped, surrounding whitespace trimmed, case folded. Two names
// differing only in color markup or letter case share a key.
func IdentityKey(name string) string {
	return strings.ToLower(strings.TrimSpace(StripColors(name)))
}

// IsWorld reports whether a raw display name denotes the non-player
// environment: the exact <world> sentinel, its lowercase bare variant,
// or an empty name once stripped.
func IsWorld(name string) bool {
	stripped := strings.ToLower(strings.TrimSpace(StripColors(name)))
	switch stripped {
	case World, "world", "":
		return true
	}
	return false
}
