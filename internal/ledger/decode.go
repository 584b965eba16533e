package ledger

import (
	"fmt"
	"math/big"
	"time"

	"github.com/R3E-Network/habit_ledger/internal/chain"
	"github.com/R3E-Network/habit_ledger/internal/domain"
)

// DecodeUserAccount decodes getUserAccount's [staked, earned, streak, active].
// Null means the address never interacted with the ledger.
func DecodeUserAccount(address string, item chain.StackItem) (domain.UserAccount, error) {
	account := domain.NewUserAccount(address)
	if chain.IsNull(item) {
		return account, nil
	}

	fields, err := chain.ParseArray(item)
	if err != nil {
		return account, fmt.Errorf("user account: %w", err)
	}
	if len(fields) < 4 {
		return account, fmt.Errorf("user account: expected 4 fields, got %d", len(fields))
	}

	if account.Staked, err = chain.ParseInteger(fields[0]); err != nil {
		return account, fmt.Errorf("parse staked: %w", err)
	}
	if account.Earned, err = chain.ParseInteger(fields[1]); err != nil {
		return account, fmt.Errorf("parse earned: %w", err)
	}
	streak, err := chain.ParseInteger(fields[2])
	if err != nil {
		return account, fmt.Errorf("parse streak: %w", err)
	}
	if account.HabitStreak, err = toUint64("streak", streak); err != nil {
		return account, err
	}
	if account.Active, err = chain.ParseBoolean(fields[3]); err != nil {
		return account, fmt.Errorf("parse active: %w", err)
	}
	if account.Staked.Sign() < 0 || account.Earned.Sign() < 0 {
		return account, fmt.Errorf("user account: negative balance")
	}
	return account, nil
}

// DecodeTherapistProfile decodes getTherapistProfile's
// [name, sessionCount, active, totalEarnings]. It returns nil when the address
// is not a registered therapist.
func DecodeTherapistProfile(address string, item chain.StackItem) (*domain.TherapistProfile, error) {
	if chain.IsNull(item) {
		return nil, nil
	}

	fields, err := chain.ParseArray(item)
	if err != nil {
		return nil, fmt.Errorf("therapist profile: %w", err)
	}
	if len(fields) < 4 {
		return nil, fmt.Errorf("therapist profile: expected 4 fields, got %d", len(fields))
	}

	name, err := chain.ParseString(fields[0])
	if err != nil {
		return nil, fmt.Errorf("parse name: %w", err)
	}
	if name == "" {
		return nil, nil
	}
	sessions, err := chain.ParseInteger(fields[1])
	if err != nil {
		return nil, fmt.Errorf("parse session count: %w", err)
	}
	active, err := chain.ParseBoolean(fields[2])
	if err != nil {
		return nil, fmt.Errorf("parse active: %w", err)
	}
	earnings, err := chain.ParseInteger(fields[3])
	if err != nil {
		return nil, fmt.Errorf("parse total earnings: %w", err)
	}
	sessionCount, err := toUint64("session count", sessions)
	if err != nil {
		return nil, err
	}
	if earnings.Sign() < 0 {
		return nil, fmt.Errorf("therapist profile: negative total earnings")
	}

	return &domain.TherapistProfile{
		Address:       address,
		DisplayName:   name,
		SessionCount:  sessionCount,
		Active:        active,
		TotalEarnings: earnings,
	}, nil
}

// DecodeBookings decodes a booking list of
// [index, user, therapist, createdAtMs, fee, reportRef|Null, status] rows.
func DecodeBookings(item chain.StackItem) ([]domain.Booking, error) {
	if chain.IsNull(item) {
		return nil, nil
	}
	rows, err := chain.ParseArray(item)
	if err != nil {
		return nil, fmt.Errorf("bookings: %w", err)
	}

	bookings := make([]domain.Booking, 0, len(rows))
	for i, row := range rows {
		b, err := decodeBooking(row)
		if err != nil {
			return nil, fmt.Errorf("booking %d: %w", i, err)
		}
		bookings = append(bookings, b)
	}
	return bookings, nil
}

func decodeBooking(item chain.StackItem) (domain.Booking, error) {
	fields, err := chain.ParseArray(item)
	if err != nil {
		return domain.Booking{}, err
	}
	if len(fields) < 7 {
		return domain.Booking{}, fmt.Errorf("expected 7 fields, got %d", len(fields))
	}

	index, err := chain.ParseInteger(fields[0])
	if err != nil {
		return domain.Booking{}, fmt.Errorf("parse index: %w", err)
	}
	user, err := chain.ParseAddress(fields[1])
	if err != nil {
		return domain.Booking{}, fmt.Errorf("parse user: %w", err)
	}
	therapist, err := chain.ParseAddress(fields[2])
	if err != nil {
		return domain.Booking{}, fmt.Errorf("parse therapist: %w", err)
	}
	createdAt, err := chain.ParseInteger(fields[3])
	if err != nil {
		return domain.Booking{}, fmt.Errorf("parse created at: %w", err)
	}
	fee, err := chain.ParseInteger(fields[4])
	if err != nil {
		return domain.Booking{}, fmt.Errorf("parse fee: %w", err)
	}
	report, err := chain.ParseString(fields[5])
	if err != nil {
		return domain.Booking{}, fmt.Errorf("parse report: %w", err)
	}
	rawStatus, err := chain.ParseInteger(fields[6])
	if err != nil {
		return domain.Booking{}, fmt.Errorf("parse status: %w", err)
	}
	status := domain.BookingStatus(rawStatus.Int64())
	if !rawStatus.IsInt64() || !status.Valid() {
		return domain.Booking{}, fmt.Errorf("unknown status %s", rawStatus)
	}
	idx, err := toUint64("index", index)
	if err != nil {
		return domain.Booking{}, err
	}
	if createdAt.Sign() < 0 || !createdAt.IsInt64() {
		return domain.Booking{}, fmt.Errorf("created at %s out of range", createdAt)
	}
	if fee.Sign() < 0 {
		return domain.Booking{}, fmt.Errorf("negative session fee %s", fee)
	}

	return domain.Booking{
		Index:           idx,
		User:            user,
		Therapist:       therapist,
		CreatedAt:       time.UnixMilli(createdAt.Int64()).UTC(),
		SessionFee:      fee,
		ReportReference: report,
		Status:          status,
	}, nil
}

func toUint64(name string, v *big.Int) (uint64, error) {
	if !v.IsUint64() {
		return 0, fmt.Errorf("%s %s out of range", name, v)
	}
	return v.Uint64(), nil
}
