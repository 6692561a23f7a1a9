package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	errx "github.com/falaai/server/internal/core/error"
	logx "github.com/falaai/server/pkg/logger"
)

const msgInvalidBody = "Corpo da requisição inválido."

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Error().Err(err).Msg("failed to encode response")
	}
}

// writeError renders err as {"detail": msg} with the status it carries.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errx.StatusOf(err)
	l := requestLogger(r)
	ev := l.Warn()
	if status >= http.StatusInternalServerError {
		ev = l.Error()
	}
	ev.Err(err).Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	writeJSON(w, status, map[string]string{"detail": msg})
}

// requestLogger returns the logger RequestLogging attached to r, or the
// process logger outside of it.
func requestLogger(r *http.Request) *zerolog.Logger {
	l := zerolog.Ctx(r.Context())
	if l.GetLevel() == zerolog.Disabled {
		return logx.Logger()
	}
	return l
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return errx.New(err, http.StatusBadRequest, msgInvalidBody)
	}
	return nil
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}
