package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/bytedance/sonic"

	"github.com/feetfirst/historyhub/internal/apperr"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
		status = http.StatusInternalServerError
		data = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	return sonic.Unmarshal(body, v)
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// writeError maps service errors onto HTTP statuses.
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrSuperseded):
		writeJSON(w, http.StatusConflict, errorBody("superseded by a newer request"))
	case errors.Is(err, apperr.ErrCreateFailed),
		errors.Is(err, apperr.ErrFetchFailed),
		errors.Is(err, apperr.ErrDeleteFailed):
		slog.Warn(op+" failed upstream", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, errorBody(upstreamMessage(err)))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

func upstreamMessage(err error) string {
	switch {
	case errors.Is(err, apperr.ErrCreateFailed):
		return "failed to add note"
	case errors.Is(err, apperr.ErrFetchFailed):
		return "failed to load notes"
	default:
		return "failed to delete note"
	}
}
