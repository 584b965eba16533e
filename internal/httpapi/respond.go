package httpapi

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"

	"github.com/R3E-Network/habit_ledger/internal/controller"
	"github.com/R3E-Network/habit_ledger/internal/errors"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason,omitempty"`
	Origin string `json:"origin,omitempty"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if stderrors.Is(err, io.EOF) {
			return errors.Format("empty request body", err)
		}
		return errors.Format("malformed request body", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeMessage(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, errorBody{Error: fmt.Sprintf(format, args...)})
}

// writeError maps the error taxonomy onto status codes.
func writeError(w http.ResponseWriter, err error) {
	var e *errors.Error
	if !stderrors.As(err, &e) {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, e.HTTPStatus(), errorBody{
		Error:  err.Error(),
		Kind:   string(e.Kind),
		Reason: e.Reason,
		Origin: string(e.Origin),
	})
}

// writeResult writes a mutation outcome. A confirmed operation whose refresh
// failed is reported as accepted so clients do not resubmit.
func writeResult(w http.ResponseWriter, status int, res any, err error) {
	if err == nil {
		writeJSON(w, status, res)
		return
	}
	var nr *controller.NotReconciledError
	if stderrors.As(err, &nr) {
		writeJSON(w, http.StatusAccepted, struct {
			Result  any    `json:"result"`
			TxHash  string `json:"tx_hash"`
			Warning string `json:"warning"`
		}{res, nr.TxHash, nr.Error()})
		return
	}
	writeError(w, err)
}
