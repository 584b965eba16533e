package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindPredicates(t *testing.T) {
	guard := PreconditionFailed("redeem", ReasonInsufficientEarned)
	ledger := RejectedByLedger("redeem", ReasonInsufficientEarned, nil)
	transport := Transport("stake", stderrors.New("dial tcp: refused"))

	assert.True(t, IsPrecondition(guard))
	assert.False(t, IsRejected(guard))
	assert.True(t, IsRejected(ledger))
	assert.True(t, IsRejection(guard))
	assert.True(t, IsRejection(ledger))
	assert.False(t, IsRejection(transport))
	assert.True(t, IsTransport(transport))
}

func TestIsMatchesReason(t *testing.T) {
	err := fmt.Errorf("book: %w", PreconditionFailed("book", ReasonTherapistInactive))

	assert.ErrorIs(t, err, &Error{Kind: KindPrecondition, Reason: ReasonTherapistInactive})
	assert.NotErrorIs(t, err, &Error{Kind: KindPrecondition, Reason: ReasonSelfBooking})
	assert.Equal(t, ReasonTherapistInactive, ReasonOf(err))

	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, KindPrecondition, kind)
}

func TestErrorString(t *testing.T) {
	err := RejectedByLedger("cancelBooking", ReasonReportPresent, nil)
	assert.Equal(t, "cancelBooking: rejected: report already uploaded (ledger)", err.Error())

	wrapped := Transport("stake", stderrors.New("timeout"))
	assert.Equal(t, "stake: transport: timeout", wrapped.Error())
	assert.ErrorContains(t, stderrors.Unwrap(wrapped), "timeout")
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, Format(ReasonNotNumeric, nil).HTTPStatus())
	assert.Equal(t, http.StatusConflict, PreconditionFailed("x", "y").HTTPStatus())
	assert.Equal(t, http.StatusUnprocessableEntity, RejectedByLedger("x", "y", nil).HTTPStatus())
	assert.Equal(t, http.StatusServiceUnavailable, Transport("x", nil).HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, Configuration("x", nil).HTTPStatus())
}
