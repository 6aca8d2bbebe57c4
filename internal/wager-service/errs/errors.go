package errs

import (
	"errors"
	"fmt"
)

// Kind identifica a categoria de falha; é o valor que o cliente recebe em "error"
type Kind string

const (
	KindValidation        Kind = "ValidationError"
	KindAccountNotFound   Kind = "AccountNotFound"
	KindAccountInactive   Kind = "AccountInactive"
	KindEventNotFound     Kind = "EventNotFound"
	KindOptionNotFound    Kind = "OptionNotFound"
	KindEventNotActive    Kind = "EventNotActive"
	KindEventEnded        Kind = "EventEnded"
	KindInsufficientFunds Kind = "InsufficientFunds"
	KindDuplicateBet      Kind = "DuplicateBet"
	KindAlreadyResolved   Kind = "AlreadyResolved"
	KindHasBets           Kind = "HasBets"
	KindInvalidTransition Kind = "InvalidTransition"
	KindStorage           Kind = "StorageError"
)

// Error é a falha tipada devolvida pelos serviços
// Field/ID carregam o contexto que a camada de apresentação precisa para montar a mensagem
type Error struct {
	Kind    Kind
	Field   string
	ID      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is compara apenas o Kind, então errors.Is(err, errs.DuplicateBet) funciona
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinelas para errors.Is
var (
	Validation        = &Error{Kind: KindValidation}
	AccountNotFound   = &Error{Kind: KindAccountNotFound}
	AccountInactive   = &Error{Kind: KindAccountInactive}
	EventNotFound     = &Error{Kind: KindEventNotFound}
	OptionNotFound    = &Error{Kind: KindOptionNotFound}
	EventNotActive    = &Error{Kind: KindEventNotActive}
	EventEnded        = &Error{Kind: KindEventEnded}
	InsufficientFunds = &Error{Kind: KindInsufficientFunds}
	DuplicateBet      = &Error{Kind: KindDuplicateBet}
	AlreadyResolved   = &Error{Kind: KindAlreadyResolved}
	HasBets           = &Error{Kind: KindHasBets}
	InvalidTransition = &Error{Kind: KindInvalidTransition}
	Storage           = &Error{Kind: KindStorage}
)

func New(kind Kind, id, format string, args ...any) *Error {
	return &Error{Kind: kind, ID: id, Message: fmt.Sprintf(format, args...)}
}

// Invalid monta um ValidationError apontando o campo ofensor
func Invalid(field, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Wrap embrulha falha de infraestrutura como StorageError
// Erros já tipados passam adiante sem alteração
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindStorage, Message: op, Err: err}
}

// KindOf extrai o Kind; erros não tipados contam como StorageError
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}
