package errx

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "Erro interno do servidor."
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage is used when a Redis key does not exist.
	RedisNotFoundMessage = "redis key not found"
	// DatabaseErrorMessage describes relational store failures.
	DatabaseErrorMessage = "Serviço de banco de dados indisponível."
	// NotFoundMessage is the generic message for missing rows.
	NotFoundMessage = "Registro não encontrado."
	// LLMErrorMessage is returned when the language model call fails.
	LLMErrorMessage = "Não foi possível obter uma resposta do assistente. Tente novamente."
)

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Err     error
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

func BadRequest(message string) *AppError {
	return New(nil, http.StatusBadRequest, message)
}

func Unauthorized(message string) *AppError {
	return New(nil, http.StatusUnauthorized, message)
}

func Forbidden(message string) *AppError {
	return New(nil, http.StatusForbidden, message)
}

func NotFound(message string) *AppError {
	return New(nil, http.StatusNotFound, message)
}

func Conflict(message string) *AppError {
	return New(nil, http.StatusConflict, message)
}

// Internal hides err behind a generic message unless one is given.
func Internal(err error, message ...string) *AppError {
	msg := SystemErrorMessage
	if len(message) > 0 && message[0] != "" {
		msg = message[0]
	}
	return New(err, http.StatusInternalServerError, msg)
}

// WrapRedis maps Redis errors to AppError with appropriate status codes.
func WrapRedis(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return New(err, http.StatusNotFound, RedisNotFoundMessage)
	}
	return New(err, http.StatusBadGateway, RedisErrorMessage)
}

// WrapDB maps database/sql errors to AppError. sql.ErrNoRows becomes a 404.
func WrapDB(err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return New(err, http.StatusNotFound, NotFoundMessage)
	}
	return New(err, http.StatusInternalServerError, DatabaseErrorMessage)
}

// WrapLLM marks a failed model invocation as an upstream error.
func WrapLLM(err error) error {
	if err == nil {
		return nil
	}
	return New(err, http.StatusBadGateway, LLMErrorMessage)
}

// StatusOf extracts the HTTP status and public message carried by err.
// Errors that are not AppErrors map to 500 with SystemErrorMessage.
func StatusOf(err error) (int, string) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status, appErr.Message
	}
	return http.StatusInternalServerError, SystemErrorMessage
}

// IsNotFound reports whether err carries a 404 status.
func IsNotFound(err error) bool {
	status, _ := StatusOf(err)
	return err != nil && status == http.StatusNotFound
}
