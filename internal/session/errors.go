package session

import (
	"errors"
	"fmt"

	"github.com/gaspardpetit/questlink/internal/gateway"
	"github.com/gaspardpetit/questlink/internal/wire"
)

var (
	// ErrNoSession is returned when an operation needs a session id and
	// neither a started session nor a fallback id is available.
	ErrNoSession = errors.New("no orchestration session")
	// ErrNotWaitingForDice is returned when a roll is offered for a
	// requirement that no longer exists.
	ErrNotWaitingForDice = errors.New("session is not waiting for dice")
	// ErrStartInProgress is returned when StartSession is already running.
	ErrStartInProgress = errors.New("session start already in progress")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("orchestrator closed")
	// ErrSuperseded is returned by a call aborted by a newer one.
	ErrSuperseded = errors.New("superseded by a newer request")

	// Failure classes matched with errors.Is against a *RequestError.
	ErrTransport   = errors.New("transport error")
	ErrAuth        = errors.New("authentication error")
	ErrProtocol    = errors.New("protocol error")
	ErrApplication = errors.New("application error")

	// ErrBlocked matches any *BlockedActionError.
	ErrBlocked = errors.New("action blocked: waiting for dice")
)

// RequestError is a failed gateway call surfaced to the caller. Its message
// is the server's message verbatim for application failures.
type RequestError struct {
	Op      string
	Kind    gateway.Kind
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	if e.Kind == gateway.KindApplication {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *RequestError) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.Kind == gateway.KindTransport
	case ErrAuth:
		return e.Kind == gateway.KindAuth
	case ErrProtocol:
		return e.Kind == gateway.KindProtocol
	case ErrApplication:
		return e.Kind == gateway.KindApplication
	}
	return false
}

func requestError[T any](op string, res gateway.Result[T]) error {
	return &RequestError{Op: op, Kind: res.Kind, Status: res.Status, Message: res.Error}
}

// BlockedActionError reports an action refused because the session is
// waiting for a dice roll. Requirement is the roll to offer the player.
type BlockedActionError struct {
	Requirement wire.DiceRequirement
}

func (e *BlockedActionError) Error() string {
	return fmt.Sprintf("waiting for dice: %s (%s)", e.Requirement.Purpose, e.Requirement.Expression)
}

func (e *BlockedActionError) Is(target error) bool { return target == ErrBlocked }
