package apikit

import (
	"errors"
	"net/http"
	"reflect"

	"github.com/gin-gonic/gin"
)

// MessageType classifies a response message.
type MessageType string

// Message types.
const (
	MessageSuccess MessageType = "success"
	MessageInfo    MessageType = "info"
	MessageWarning MessageType = "warning"
	MessageError   MessageType = "error"
)

// Message is a user facing note carried by a response envelope.
// Code is a stable identifier clients can translate.
type Message struct {
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
	Type    MessageType `json:"type"`
}

// NewMessage creates a message.
func NewMessage(typ MessageType, code, message string) Message {
	return Message{Message: message, Code: code, Type: typ}
}

// ErrorMessage creates an error message.
func ErrorMessage(code, message string) Message {
	return NewMessage(MessageError, code, message)
}

// Response is the JSON envelope returned by every controller route.
type Response[T any] struct {
	Success  bool      `json:"success"`
	Status   int       `json:"status"`
	Messages []Message `json:"messages,omitempty"`
	Response T         `json:"response,omitempty"`
}

// NewResponse creates an envelope. Statuses below 400 are successful.
func NewResponse[T any](status int, body T, messages ...Message) Response[T] {
	return Response[T]{
		Success:  status < http.StatusBadRequest,
		Status:   status,
		Messages: messages,
		Response: body,
	}
}

// Ok wraps body in a 200 envelope.
func Ok[T any](body T, messages ...Message) Response[T] {
	return NewResponse(http.StatusOK, body, messages...)
}

// Created wraps body in a 201 envelope.
func Created[T any](body T, messages ...Message) Response[T] {
	return NewResponse(http.StatusCreated, body, messages...)
}

// NoContent is a bodiless 204 envelope.
func NoContent[T any]() Response[T] {
	var zero T
	return NewResponse(http.StatusNoContent, zero)
}

func failure[T any](status int, messages []Message) Response[T] {
	var zero T
	return NewResponse(status, zero, messages...)
}

// BadRequest is a 400 envelope.
func BadRequest[T any](messages ...Message) Response[T] {
	return failure[T](http.StatusBadRequest, messages)
}

// Unauthorized is a 401 envelope.
func Unauthorized[T any](messages ...Message) Response[T] {
	return failure[T](http.StatusUnauthorized, messages)
}

// Forbidden is a 403 envelope.
func Forbidden[T any](messages ...Message) Response[T] {
	return failure[T](http.StatusForbidden, messages)
}

// NotFound is a 404 envelope.
func NotFound[T any](messages ...Message) Response[T] {
	return failure[T](http.StatusNotFound, messages)
}

// InternalServerError is a 500 envelope.
func InternalServerError[T any](messages ...Message) Response[T] {
	return failure[T](http.StatusInternalServerError, messages)
}

// ToOther re-types an envelope, keeping status and messages and dropping the body.
func ToOther[U, T any](r Response[T]) Response[U] {
	return Response[U]{Success: r.Success, Status: r.Status, Messages: r.Messages}
}

// ResponseFromError builds the failed envelope for err.
// Messages attached to the error are kept. Errors without messages other than
// internal errors get one message carrying the error text.
func ResponseFromError[T any](err error) Response[T] {
	status := StatusCode(err)
	messages := ErrorMessages(err)
	if len(messages) == 0 && status != http.StatusInternalServerError && status != http.StatusNotFound {
		messages = []Message{{Message: errorText(err), Type: MessageError}}
	}
	return failure[T](status, messages)
}

func errorText(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

// HasBody reports whether the envelope carries a response body.
func (r Response[T]) HasBody() bool {
	return !isNil(r.Response)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// GenerateResult writes resp to c.
// A 204, or a failure without body and messages, is written as a bare status.
func GenerateResult[T any](c *gin.Context, resp Response[T]) {
	if resp.Status == http.StatusNoContent || (!resp.Success && !resp.HasBody() && len(resp.Messages) == 0) {
		c.Status(resp.Status)
		return
	}
	c.JSON(resp.Status, resp)
}

// GenerateError writes the envelope for err to c.
func GenerateError(c *gin.Context, err error) {
	GenerateResult(c, ResponseFromError[any](err))
}
