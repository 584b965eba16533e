// Package httpapi exposes the projection and the controller to UI
// collaborators as a JSON API. Amounts cross this boundary in display units.
package httpapi

import (
	"context"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"

	"github.com/R3E-Network/habit_ledger/internal/controller"
	"github.com/R3E-Network/habit_ledger/internal/domain"
	"github.com/R3E-Network/habit_ledger/internal/errors"
	"github.com/R3E-Network/habit_ledger/internal/metrics"
	"github.com/R3E-Network/habit_ledger/internal/projection"
	"github.com/R3E-Network/habit_ledger/internal/tokens"
	"github.com/R3E-Network/habit_ledger/pkg/logger"
)

// Refresher reconciles an address on demand.
type Refresher interface {
	Track(address string)
	FullReload(ctx context.Context, address string) error
}

// Deps are the collaborators of the API.
type Deps struct {
	Controller *controller.Controller
	Store      *projection.Store
	Refresher  Refresher
	Metrics    *metrics.Metrics
	Logger     *logger.Logger

	Decimals uint8
	Network  uint32
	Contract string
	// Owner is the contract owner address, empty when the contract has none.
	Owner string

	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit float64
	Burst     int
}

type handler struct {
	ctl      *controller.Controller
	store    *projection.Store
	refresh  Refresher
	log      *logger.Logger
	present  presenter
	decimals uint8
	network  uint32
	contract string
	owner    string
}

// NewHandler returns the routed API.
func NewHandler(d Deps) http.Handler {
	log := d.Logger
	if log == nil {
		log = logger.NewNop()
	}
	h := &handler{
		ctl:      d.Controller,
		store:    d.Store,
		refresh:  d.Refresher,
		log:      log,
		present:  presenter{decimals: d.Decimals},
		decimals: d.Decimals,
		network:  d.Network,
		contract: d.Contract,
		owner:    d.Owner,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler()).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/users/{address}", h.getUser).Methods(http.MethodGet)
	v1.HandleFunc("/users/{address}/bookings", h.getUserBookings).Methods(http.MethodGet)
	v1.HandleFunc("/therapists/{address}", h.getTherapist).Methods(http.MethodGet)
	v1.HandleFunc("/therapists/{address}/bookings", h.getTherapistBookings).Methods(http.MethodGet)
	v1.HandleFunc("/projection/{kind}/{key:.+}", h.getProjection).Methods(http.MethodGet)
	v1.HandleFunc("/refresh/{address}", h.postRefresh).Methods(http.MethodPost)

	v1.HandleFunc("/stake", h.amountOp(h.ctl.Stake)).Methods(http.MethodPost)
	v1.HandleFunc("/unstake", h.amountOp(h.ctl.Unstake)).Methods(http.MethodPost)
	v1.HandleFunc("/tasks/complete", h.amountOp(h.ctl.CompleteTask)).Methods(http.MethodPost)
	v1.HandleFunc("/redeem", h.amountOp(h.ctl.Redeem)).Methods(http.MethodPost)

	v1.HandleFunc("/therapists", h.postTherapist).Methods(http.MethodPost)
	v1.HandleFunc("/therapists/deactivate", h.toggleTherapist(h.ctl.DeactivateTherapist)).Methods(http.MethodPost)
	v1.HandleFunc("/therapists/reactivate", h.toggleTherapist(h.ctl.ReactivateTherapist)).Methods(http.MethodPost)

	v1.HandleFunc("/bookings", h.postBooking).Methods(http.MethodPost)
	v1.HandleFunc("/bookings/{therapist}/{index}/cancel", h.postCancel).Methods(http.MethodPost)
	v1.HandleFunc("/bookings/{therapist}/{index}/report", h.postReport).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusNotFound, "not found")
	})

	var out http.Handler = r
	if d.RateLimit > 0 {
		out = newRateLimiter(d.RateLimit, d.Burst, log).handler(out)
	}
	if d.Metrics != nil {
		out = d.Metrics.InstrumentHandler(out)
	}
	return out
}

// =============================================================================
// Reads
// =============================================================================

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	identity := h.ctl.Identity()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"network":  h.network,
		"contract": h.contract,
		"owner":    h.owner,
		"identity": identity,
		"is_owner": h.owner != "" && h.owner == identity,
	})
}

func pathAddress(r *http.Request, name string) (string, error) {
	addr := mux.Vars(r)[name]
	if _, err := address.StringToUint160(addr); err != nil {
		return "", errors.Format(errors.ReasonInvalidAddress, err)
	}
	return addr, nil
}

func (h *handler) getUser(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, err)
		return
	}
	u, ok := h.store.User(addr)
	if !ok {
		writeMessage(w, http.StatusNotFound, "account %s is not in the projection", addr)
		return
	}
	writeJSON(w, http.StatusOK, h.present.account(u))
}

func (h *handler) getUserBookings(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.present.bookings(h.store.UserBookings(addr)))
}

func (h *handler) getTherapist(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, err)
		return
	}
	t, ok := h.store.Therapist(addr)
	if !ok {
		writeMessage(w, http.StatusNotFound, "therapist %s is not in the projection", addr)
		return
	}
	writeJSON(w, http.StatusOK, h.present.therapist(t))
}

func (h *handler) getTherapistBookings(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.present.bookings(h.store.TherapistBookings(addr)))
}

func (h *handler) getProjection(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	kind, err := domain.ParseEntityKind(vars["kind"])
	if err != nil {
		writeError(w, errors.Format("unknown entity kind", err))
		return
	}
	value, marker, ok := h.store.Get(kind, vars["key"])
	if !ok {
		writeMessage(w, http.StatusNotFound, "%s %s is not in the projection", kind, vars["key"])
		return
	}

	var view any
	switch v := value.(type) {
	case domain.UserAccount:
		view = h.present.account(v)
	case domain.TherapistProfile:
		view = h.present.therapist(v)
	case domain.Booking:
		view = h.present.booking(v)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":   kind,
		"key":    vars["key"],
		"marker": marker,
		"value":  view,
	})
}

func (h *handler) postRefresh(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, err)
		return
	}
	h.refresh.Track(addr)
	if err := h.refresh.FullReload(r.Context(), addr); err != nil {
		writeError(w, err)
		return
	}

	view := h.store.View()
	out := map[string]any{"address": addr}
	if u, ok := view.User(addr); ok {
		out["account"] = h.present.account(u)
	}
	if t, ok := view.Therapist(addr); ok {
		out["therapist"] = h.present.therapist(t)
	}
	out["user_bookings"] = h.present.bookings(view.UserBookings(addr))
	out["therapist_bookings"] = h.present.bookings(view.TherapistBookings(addr))
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// Mutations
// =============================================================================

type amountRequest struct {
	Amount string `json:"amount"`
}

func (h *handler) raw(display string) (*big.Int, error) {
	return tokens.ToRaw(strings.TrimSpace(display), h.decimals)
}

func (h *handler) amountOp(op func(context.Context, *big.Int) (*controller.AccountResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req amountRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		amount, err := h.raw(req.Amount)
		if err != nil {
			writeError(w, err)
			return
		}
		res, err := op(r.Context(), amount)
		writeResult(w, http.StatusOK, h.present.accountResult(res), err)
	}
}

type registerRequest struct {
	Name string `json:"name"`
}

func (h *handler) postTherapist(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.ctl.RegisterTherapist(r.Context(), strings.TrimSpace(req.Name))
	writeResult(w, http.StatusCreated, h.present.therapistResult(res), err)
}

func (h *handler) toggleTherapist(op func(context.Context) (*controller.TherapistResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := op(r.Context())
		writeResult(w, http.StatusOK, h.present.therapistResult(res), err)
	}
}

type bookingRequest struct {
	Therapist string `json:"therapist"`
	Fee       string `json:"fee"`
}

func (h *handler) postBooking(w http.ResponseWriter, r *http.Request) {
	var req bookingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	fee, err := h.raw(req.Fee)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.ctl.BookTherapist(r.Context(), strings.TrimSpace(req.Therapist), fee)
	writeResult(w, http.StatusCreated, h.present.bookingResult(res), err)
}

func bookingKey(r *http.Request) (domain.BookingKey, error) {
	therapist, err := pathAddress(r, "therapist")
	if err != nil {
		return domain.BookingKey{}, err
	}
	index, err := strconv.ParseUint(mux.Vars(r)["index"], 10, 64)
	if err != nil {
		return domain.BookingKey{}, errors.Format(errors.ReasonNotNumeric, err)
	}
	return domain.BookingKey{Therapist: therapist, Index: index}, nil
}

func (h *handler) postCancel(w http.ResponseWriter, r *http.Request) {
	key, err := bookingKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.ctl.CancelBooking(r.Context(), key)
	writeResult(w, http.StatusOK, h.present.bookingResult(res), err)
}

type reportRequest struct {
	Reference string `json:"reference"`
}

func (h *handler) postReport(w http.ResponseWriter, r *http.Request) {
	key, err := bookingKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req reportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.ctl.UploadReport(r.Context(), key, strings.TrimSpace(req.Reference))
	writeResult(w, http.StatusOK, h.present.bookingResult(res), err)
}
