package api

import (
	"encoding/json"
	"net/http"

	xerrors "AgentNFT-Chain/internal/errors"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func statusOf(err error) int {
	switch xerrors.CategoryOf(err) {
	case xerrors.CategoryInvalid:
		return http.StatusBadRequest
	case xerrors.CategoryNotFound:
		return http.StatusNotFound
	case xerrors.CategoryDenied:
		return http.StatusForbidden
	case xerrors.CategoryConflict:
		return http.StatusConflict
	case xerrors.CategoryUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Code: string(xerrors.CodeOf(err)), Message: err.Error()}
	if e, ok := xerrors.From(err); ok {
		body.Message = e.Message()
	}
	writeJSON(w, statusOf(err), body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
