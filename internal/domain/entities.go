// Package domain holds the client-side projections of ledger entities.
//
// Amounts are base-unit integers. Values handed out by the projection store
// are copies; mutating them never affects the store.
package domain

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// EntityKind names a projection table.
type EntityKind string

const (
	KindUser      EntityKind = "user"
	KindTherapist EntityKind = "therapist"
	KindBooking   EntityKind = "booking"
)

// ParseEntityKind validates a kind string.
func ParseEntityKind(s string) (EntityKind, error) {
	switch k := EntityKind(s); k {
	case KindUser, KindTherapist, KindBooking:
		return k, nil
	default:
		return "", fmt.Errorf("unknown entity kind %q", s)
	}
}

// UserAccount is a wallet's staking and reward position.
type UserAccount struct {
	Address     string   `json:"address"`
	Staked      *big.Int `json:"staked"`
	Earned      *big.Int `json:"earned"`
	HabitStreak uint64   `json:"habit_streak"`
	Active      bool     `json:"active"`
}

// NewUserAccount returns the zero-valued account an address has before it
// ever interacted with the ledger.
func NewUserAccount(address string) UserAccount {
	return UserAccount{Address: address, Staked: new(big.Int), Earned: new(big.Int)}
}

// Total returns staked plus earned.
func (u UserAccount) Total() *big.Int {
	return new(big.Int).Add(bigOrZero(u.Staked), bigOrZero(u.Earned))
}

// Clone returns a deep copy.
func (u UserAccount) Clone() UserAccount {
	u.Staked = cloneBig(u.Staked)
	u.Earned = cloneBig(u.Earned)
	return u
}

// TherapistProfile is a registered therapist.
type TherapistProfile struct {
	Address       string   `json:"address"`
	DisplayName   string   `json:"display_name"`
	SessionCount  uint64   `json:"session_count"`
	Active        bool     `json:"active"`
	TotalEarnings *big.Int `json:"total_earnings"`
}

// Clone returns a deep copy.
func (t TherapistProfile) Clone() TherapistProfile {
	t.TotalEarnings = cloneBig(t.TotalEarnings)
	return t
}

// BookingKey identifies a booking. Indices are assigned by the ledger per
// therapist.
type BookingKey struct {
	Therapist string `json:"therapist"`
	Index     uint64 `json:"index"`
}

func (k BookingKey) String() string {
	return k.Therapist + "/" + strconv.FormatUint(k.Index, 10)
}

// ParseBookingKey is the inverse of BookingKey.String.
func ParseBookingKey(s string) (BookingKey, error) {
	i := strings.LastIndexByte(s, '/')
	if i <= 0 {
		return BookingKey{}, fmt.Errorf("invalid booking key %q", s)
	}
	idx, err := strconv.ParseUint(s[i+1:], 10, 64)
	if err != nil {
		return BookingKey{}, fmt.Errorf("invalid booking index in %q: %w", s, err)
	}
	return BookingKey{Therapist: s[:i], Index: idx}, nil
}

// Booking is a paid session between a user and a therapist.
type Booking struct {
	Index           uint64        `json:"index"`
	User            string        `json:"user"`
	Therapist       string        `json:"therapist"`
	CreatedAt       time.Time     `json:"created_at"`
	SessionFee      *big.Int      `json:"session_fee"`
	ReportReference string        `json:"report_reference,omitempty"`
	Status          BookingStatus `json:"status"`
}

// Key returns the booking's identity.
func (b Booking) Key() BookingKey {
	return BookingKey{Therapist: b.Therapist, Index: b.Index}
}

// HasReport reports whether a report reference is attached.
func (b Booking) HasReport() bool {
	return b.ReportReference != ""
}

// Clone returns a deep copy.
func (b Booking) Clone() Booking {
	b.SessionFee = cloneBig(b.SessionFee)
	return b
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
