package httpapi

import (
	"math/big"
	"time"

	"github.com/R3E-Network/habit_ledger/internal/controller"
	"github.com/R3E-Network/habit_ledger/internal/domain"
	"github.com/R3E-Network/habit_ledger/internal/ledger"
	"github.com/R3E-Network/habit_ledger/internal/tokens"
)

// Amounts leave the API in display units.

type accountView struct {
	Address     string `json:"address"`
	Staked      string `json:"staked"`
	Earned      string `json:"earned"`
	Total       string `json:"total"`
	HabitStreak uint64 `json:"habit_streak"`
	Active      bool   `json:"active"`
}

type therapistView struct {
	Address       string `json:"address"`
	DisplayName   string `json:"display_name"`
	SessionCount  uint64 `json:"session_count"`
	Active        bool   `json:"active"`
	TotalEarnings string `json:"total_earnings"`
}

type bookingView struct {
	Therapist       string               `json:"therapist"`
	Index           uint64               `json:"index"`
	User            string               `json:"user"`
	CreatedAt       time.Time            `json:"created_at"`
	SessionFee      string               `json:"session_fee"`
	ReportReference string               `json:"report_reference,omitempty"`
	Status          domain.BookingStatus `json:"status"`
}

type confirmationView struct {
	TxHash      string `json:"tx_hash"`
	GasConsumed int64  `json:"gas_consumed"`
	Events      int    `json:"events"`
}

type presenter struct {
	decimals uint8
}

func (p presenter) amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	s, err := tokens.ToDisplay(v, p.decimals)
	if err != nil {
		// ledger balances are never negative; show the raw value if one is
		return v.String()
	}
	return s
}

func (p presenter) account(u domain.UserAccount) accountView {
	return accountView{
		Address:     u.Address,
		Staked:      p.amount(u.Staked),
		Earned:      p.amount(u.Earned),
		Total:       p.amount(u.Total()),
		HabitStreak: u.HabitStreak,
		Active:      u.Active,
	}
}

func (p presenter) therapist(t domain.TherapistProfile) therapistView {
	return therapistView{
		Address:       t.Address,
		DisplayName:   t.DisplayName,
		SessionCount:  t.SessionCount,
		Active:        t.Active,
		TotalEarnings: p.amount(t.TotalEarnings),
	}
}

func (p presenter) booking(b domain.Booking) bookingView {
	return bookingView{
		Therapist:       b.Therapist,
		Index:           b.Index,
		User:            b.User,
		CreatedAt:       b.CreatedAt,
		SessionFee:      p.amount(b.SessionFee),
		ReportReference: b.ReportReference,
		Status:          b.Status,
	}
}

func (p presenter) bookings(bs []domain.Booking) []bookingView {
	out := make([]bookingView, 0, len(bs))
	for _, b := range bs {
		out = append(out, p.booking(b))
	}
	return out
}

func confirmation(c *ledger.Confirmation) *confirmationView {
	if c == nil {
		return nil
	}
	return &confirmationView{TxHash: c.TxHash, GasConsumed: c.GasConsumed, Events: len(c.Events)}
}

type accountResult struct {
	Confirmation *confirmationView `json:"confirmation,omitempty"`
	Account      accountView       `json:"account"`
}

func (p presenter) accountResult(r *controller.AccountResult) any {
	if r == nil {
		return nil
	}
	return accountResult{Confirmation: confirmation(r.Confirmation), Account: p.account(r.Account)}
}

type therapistResult struct {
	Confirmation *confirmationView `json:"confirmation,omitempty"`
	Therapist    *therapistView    `json:"therapist,omitempty"`
}

func (p presenter) therapistResult(r *controller.TherapistResult) any {
	if r == nil {
		return nil
	}
	out := therapistResult{Confirmation: confirmation(r.Confirmation)}
	if r.Profile != nil {
		v := p.therapist(*r.Profile)
		out.Therapist = &v
	}
	return out
}

type bookingResult struct {
	Confirmation *confirmationView `json:"confirmation,omitempty"`
	Booking      bookingView       `json:"booking"`
}

func (p presenter) bookingResult(r *controller.BookingResult) any {
	if r == nil {
		return nil
	}
	return bookingResult{Confirmation: confirmation(r.Confirmation), Booking: p.booking(r.Booking)}
}
