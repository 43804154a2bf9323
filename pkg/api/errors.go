package api

import (
	"encoding/json"
	"net/http"

	"github.com/junctionhq/junction/pkg/types"
)

// statusForKind maps the stable error kinds onto HTTP status codes.
var statusForKind = map[types.ErrorKind]int{
	types.KindInvalidType:               http.StatusBadRequest,
	types.KindMissingField:              http.StatusBadRequest,
	types.KindNotFound:                  http.StatusNotFound,
	types.KindRecordNotFound:            http.StatusNotFound,
	types.KindImmutable:                 http.StatusConflict,
	types.KindDeintegrationBlocked:      http.StatusConflict,
	types.KindPortExhausted:             http.StatusServiceUnavailable,
	types.KindServiceUnreachable:        http.StatusBadGateway,
	types.KindDeliveryFailed:            http.StatusBadGateway,
	types.KindRegistrationFailed:        http.StatusUnprocessableEntity,
	types.KindTypeUnavailable:           http.StatusNotImplemented,
	types.KindRequestTimeout:            http.StatusGatewayTimeout,
	types.KindCleanupVerificationFailed: http.StatusInternalServerError,
	types.KindStateCorrupt:              http.StatusInternalServerError,
}

type errorBody struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorWithDetail(w, err, nil)
}

func writeErrorWithDetail(w http.ResponseWriter, err error, details map[string]any) {
	kind := types.KindOf(err)
	status, ok := statusForKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]any{
		"error": errorBody{
			Kind:    string(kind),
			Message: err.Error(),
			Details: details,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
