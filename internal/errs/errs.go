// Package errs defines the chat error codes exposed to clients and maps internal failures onto them.
package errs

import (
	"errors"
	"net/http"

	"github.com/hyperjump/guidechat/internal/provider"
	"github.com/hyperjump/guidechat/internal/storage"
)

// Code is a client-visible error code.
type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeNotFound      Code = "NOT_FOUND"
	CodeAIDisabled    Code = "AI_DISABLED"
	CodeRateLimit     Code = "RATE_LIMIT"
	CodeLLM           Code = "LLM_ERROR"
	CodeEmptyResponse Code = "EMPTY_RESPONSE"
	CodeChat          Code = "CHAT_ERROR"
)

// Error carries a code, an HTTP status for pre-stream failures, and a safe user-facing message.
// Err holds the internal cause and is never sent to clients.
type Error struct {
	Code       Code
	HTTPStatus int
	Message    string
	Err        error
}

// New returns an error with the given code, status and message.
func New(code Code, status int, message string) *Error {
	return &Error{Code: code, HTTPStatus: status, Message: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on code so sentinels compare equal to their wrapped copies.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	c := *e
	c.Err = cause
	return &c
}

var (
	ErrMessageLength = New(CodeValidation, http.StatusBadRequest, "메시지는 1자 이상 1000자 이하로 입력해 주세요.")
	ErrInvalidBody   = New(CodeValidation, http.StatusBadRequest, "요청 형식이 올바르지 않습니다.")
	ErrGuideNotFound = New(CodeNotFound, http.StatusNotFound, "가이드를 찾을 수 없습니다.")
	ErrAIDisabled    = New(CodeAIDisabled, http.StatusForbidden, "이 가이드는 AI 답변을 사용하지 않습니다.")
	ErrRateLimit     = New(CodeRateLimit, http.StatusTooManyRequests, "요청이 많아 잠시 후 다시 시도해 주세요.")
	ErrLLM           = New(CodeLLM, http.StatusBadGateway, "AI 응답을 생성하지 못했습니다. 잠시 후 다시 시도해 주세요.")
	ErrEmptyResponse = New(CodeEmptyResponse, http.StatusBadGateway, "AI가 답변을 생성하지 못했습니다. 질문을 바꿔 다시 시도해 주세요.")
	ErrChat          = New(CodeChat, http.StatusInternalServerError, "채팅 처리 중 오류가 발생했습니다.")
)

// From maps any error onto a client-visible *Error.
// Provider rate limits become RATE_LIMIT, other provider failures LLM_ERROR,
// missing rows NOT_FOUND, and everything else CHAT_ERROR.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	var pe *provider.Error
	switch {
	case errors.As(err, &pe) && pe.Kind == provider.KindRateLimit:
		return ErrRateLimit.Wrap(err)
	case errors.As(err, &pe):
		return ErrLLM.Wrap(err)
	case errors.Is(err, storage.ErrNotFound):
		return ErrGuideNotFound.Wrap(err)
	default:
		return ErrChat.Wrap(err)
	}
}

var byCode = map[Code]*Error{
	CodeValidation:    ErrMessageLength,
	CodeNotFound:      ErrGuideNotFound,
	CodeAIDisabled:    ErrAIDisabled,
	CodeRateLimit:     ErrRateLimit,
	CodeLLM:           ErrLLM,
	CodeEmptyResponse: ErrEmptyResponse,
	CodeChat:          ErrChat,
}

// UserMessage returns the user-facing message for code.
func UserMessage(code Code) string {
	if e, ok := byCode[code]; ok {
		return e.Message
	}
	return ErrChat.Message
}
