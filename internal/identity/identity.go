// Package identity holds the deterministic rules every other component relies on
// to recognise the same person: canonical id keys, the ledger identity hash,
// name normalisation, calendar-exact age and card expiry parsing.
package identity

import (
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// MinimumAge is the voting age.
const MinimumAge = 18

// ErrInvalidDate is returned when a stored date cannot be parsed.
var ErrInvalidDate = errors.New("identity: invalid date")

// Key is the canonical form of an id number.
type Key string

// Hash is the ledger lookup key derived from a Key.
type Hash = common.Hash

// Canonical trims, removes all whitespace and upper-cases an id number.
// " AB 123 ", "ab123" and "AB123" all yield "AB123".
func Canonical(id string) Key {
	return Key(strings.ToUpper(strings.Join(strings.Fields(id), "")))
}

// String implements fmt.Stringer.
func (k Key) String() string { return string(k) }

// Empty reports whether the key carries no characters.
func (k Key) Empty() bool { return k == "" }

// Hash returns keccak256(utf8(key)), the same digest the contract is keyed by.
func (k Key) Hash() Hash {
	return crypto.Keccak256Hash([]byte(k))
}

// NormalizeName folds a personal name into a comparable form: NFC, single spaces, case-folded.
func NormalizeName(name string) string {
	name = norm.NFC.String(name)
	name = strings.Join(strings.Fields(name), " ")
	return cases.Fold().String(name)
}

// SameName compares two names after normalisation.
func SameName(a, b string) bool {
	return NormalizeName(a) == NormalizeName(b)
}

// Age returns completed years between dob and now using calendar dates, not day counts.
func Age(dob, now time.Time) int {
	dy, dm, dd := dob.Date()
	ny, nm, nd := now.Date()
	age := ny - dy
	if nm < dm || (nm == dm && nd < dd) {
		age--
	}
	return age
}

// Adult reports whether the person is at least MinimumAge on now's calendar date.
func Adult(dob, now time.Time) bool {
	return Age(dob, now) >= MinimumAge
}

var expiryLayouts = []string{"02.01.2006", "2.1.2006"}

// ParseExpiry parses a day.month.year card expiry date.
func ParseExpiry(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrInvalidDate
	}
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, ErrInvalidDate
}

// Expired reports whether the card expired before now's calendar date.
// A card is still valid on its expiry day.
func Expired(expiry, now time.Time) bool {
	ey, em, ed := expiry.Date()
	ny, nm, nd := now.Date()
	last := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	today := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return today.After(last)
}
