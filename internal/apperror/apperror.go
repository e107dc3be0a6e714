// Package apperror is the single error classification used at the HTTP boundary.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation      Kind = "validation"
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindPrecondition    Kind = "precondition"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindExternal        Kind = "external"
	KindInternal        Kind = "internal"
)

// Default user-facing messages
const (
	MsgGeneric      = "Une erreur est survenue"
	MsgRetry        = "Une erreur est survenue. Veuillez réessayer."
	MsgLoginNeeded  = "Veuillez vous connecter pour continuer"
	MsgPhoneMissing = "Veuillez mettre à jour votre numéro de téléphone dans votre profil"
	MsgEmptyCart    = "Votre panier est vide"
	MsgNotFound     = "Ressource introuvable"
	MsgForbidden    = "Accès refusé"
)

// Error carries a classification and a message safe to show to the customer
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(message string) *Error {
	return New(KindValidation, message, nil)
}

func External(err error) *Error {
	return New(KindExternal, MsgRetry, err)
}

func Internal(err error) *Error {
	return New(KindInternal, MsgGeneric, err)
}

// KindOf returns the kind of err, or KindInternal for unclassified errors
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// MessageOf returns the user-facing message for err
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return MsgGeneric
}

// HTTPStatus maps an error to the response status code
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindPrecondition, KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
