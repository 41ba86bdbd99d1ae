package events

import (
	"errors"
	"strings"
)

// Action is the verb encoded in a callback token.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionCopy    Action = "copy"
)

// MaxTokenLen is Telegram's callback_data limit in bytes.
const MaxTokenLen = 64

var (
	// ErrMalformedToken is returned for data that is not "<action>:<id>".
	ErrMalformedToken = errors.New("malformed callback token")
	// ErrUnknownAction is returned for a well-formed token with an unsupported verb.
	ErrUnknownAction = errors.New("unknown callback action")
)

// Token is the parsed form of a button's callback data.
type Token struct {
	Action    Action
	RequestID string
}

// FormatToken encodes an action for requestID.
func FormatToken(action Action, requestID string) string {
	return string(action) + ":" + requestID
}

// ParseToken decodes callback data produced by FormatToken.
func ParseToken(data string) (Token, error) {
	if data == "" || len(data) > MaxTokenLen {
		return Token{}, ErrMalformedToken
	}
	verb, id, ok := strings.Cut(data, ":")
	if !ok || verb == "" || id == "" || strings.ContainsAny(id, ": \t\n") {
		return Token{}, ErrMalformedToken
	}
	action := Action(verb)
	switch action {
	case ActionApprove, ActionReject, ActionCopy:
		return Token{Action: action, RequestID: id}, nil
	default:
		return Token{Action: action, RequestID: id}, ErrUnknownAction
	}
}
