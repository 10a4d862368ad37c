// Copyright 2024-2026 Aiku AI

package connector

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxGroupNameLength keeps generated names well below Rocket.Chat's limits
// while leaving room for rename suffixes.
const maxGroupNameLength = 64

var disallowedNameRe = regexp.MustCompile(`[^0-9A-Za-z._-]+`)

// SanitizeGroupName maps an arbitrary course or activity name onto
// Rocket.Chat's default room name alphabet ([0-9A-Za-z._-]). Accents are
// stripped, other runs of disallowed characters become a single underscore.
func SanitizeGroupName(name string) string {
	stripped, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		stripped = name
	}
	out := disallowedNameRe.ReplaceAllString(stripped, "_")
	out = strings.Trim(out, "_")
	if len(out) > maxGroupNameLength {
		out = strings.TrimRight(out[:maxGroupNameLength], "_")
	}
	return out
}

// RenamedGroupName returns the candidate name for the given rename attempt.
// Attempt 0 is the name itself.
func RenamedGroupName(name string, attempt int) string {
	if attempt <= 0 {
		return name
	}
	return name + "_" + strconv.Itoa(attempt)
}
