package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sheikh-saqib/backoffice-ledger/internal/xerrors"
)

type apiResponse struct {
	Status   string        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Data     any           `json:"data,omitempty"`
	Failures []itemFailure `json:"failures,omitempty"`
}

type itemFailure struct {
	ItemID string `json:"item_id"`
	Error  string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{Status: "success", Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	resp := apiResponse{Status: "error", Message: err.Error()}

	var pf *xerrors.PartialFailure
	if errors.As(err, &pf) {
		for _, f := range pf.Failures {
			resp.Failures = append(resp.Failures, itemFailure{ItemID: f.ItemID, Error: f.Err.Error()})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(err))
	_ = json.NewEncoder(w).Encode(resp)
}

// statusFor maps the error taxonomy onto HTTP status codes. PartialFailure
// is matched first because it unwraps to its members' errors.
func statusFor(err error) int {
	switch {
	case errors.Is(err, xerrors.ErrPartialFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errMissingActor):
		return http.StatusUnauthorized
	case errors.Is(err, xerrors.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, xerrors.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, xerrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, xerrors.ErrConflict),
		errors.Is(err, xerrors.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, xerrors.ErrInsufficientFunds),
		errors.Is(err, xerrors.ErrInsufficientAvailable),
		errors.Is(err, xerrors.ErrInsufficientHeld),
		errors.Is(err, xerrors.ErrAccountInactive):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return xerrors.Invalid("body", "is not valid JSON: "+err.Error())
	}
	return nil
}
