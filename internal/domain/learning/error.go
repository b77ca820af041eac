package learning

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")

	// Классы ошибок удаленного вызова
	ErrTransport  = errors.New("transport error")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
)

// RemoteError ошибка удаленного вызова с классом (ErrTransport, ErrValidation, ErrConflict)
type RemoteError struct {
	Kind    error
	Status  int
	Message string
	Err     error
}

func (e *RemoteError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("%v: status %d: %s", e.Kind, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("%v: status %d", e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return e.Kind.Error()
}

func (e *RemoteError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Transport оборачивает сетевую ошибку
func Transport(err error) error {
	return &RemoteError{Kind: ErrTransport, Err: err}
}

// FromStatus классифицирует HTTP-статус ответа
func FromStatus(status int, message string) error {
	return &RemoteError{Kind: ClassifyStatus(status), Status: status, Message: message}
}

// ClassifyStatus относит статус к классу ошибки.
// 401 считается временной ошибкой: токеном управляет внешний компонент и он может его обновить.
func ClassifyStatus(status int) error {
	switch {
	case status == 409:
		return ErrConflict
	case status == 401, status == 408, status == 425, status == 429:
		return ErrTransport
	case status >= 500:
		return ErrTransport
	case status >= 400:
		return ErrValidation
	}
	return ErrTransport
}

// Retryable - ошибку имеет смысл повторить
func Retryable(err error) bool {
	return errors.Is(err, ErrTransport)
}
