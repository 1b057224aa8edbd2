package faucet

import (
	"strings"
)

// BroadcastErrorKind is the classification of a node's rejection of a raw
// transaction.
type BroadcastErrorKind int

const (
	BroadcastErrorOther BroadcastErrorKind = iota
	BroadcastErrorAlreadyKnown
	BroadcastErrorReplacementUnderpriced
	BroadcastErrorNonceTooLow
)

func (k BroadcastErrorKind) String() string {
	switch k {
	case BroadcastErrorAlreadyKnown:
		return "already_known"
	case BroadcastErrorReplacementUnderpriced:
		return "replacement_underpriced"
	case BroadcastErrorNonceTooLow:
		return "nonce_too_low"
	default:
		return "other"
	}
}

// IsCollision reports whether the rejection means another transaction
// already holds the nonce we used.
func (k BroadcastErrorKind) IsCollision() bool {
	return k != BroadcastErrorOther
}

// Node implementations do not expose a stable error code for these
// conditions, so the match is on message text. Update the phrases when
// adding support for a client that words them differently.
var collisionPhrases = []struct {
	phrase string
	kind   BroadcastErrorKind
}{
	{"already known", BroadcastErrorAlreadyKnown},
	{"known transaction", BroadcastErrorAlreadyKnown},
	{"already imported", BroadcastErrorAlreadyKnown},
	{"replacement transaction underpriced", BroadcastErrorReplacementUnderpriced},
	{"could not replace", BroadcastErrorReplacementUnderpriced},
	{"nonce too low", BroadcastErrorNonceTooLow},
	{"nonce has already been used", BroadcastErrorNonceTooLow},
}

// ClassifyBroadcastError maps the text of a broadcast error to a BroadcastErrorKind.
func ClassifyBroadcastError(err error) BroadcastErrorKind {
	if err == nil {
		return BroadcastErrorOther
	}
	msg := strings.ToLower(err.Error())
	for _, p := range collisionPhrases {
		if strings.Contains(msg, p.phrase) {
			return p.kind
		}
	}
	return BroadcastErrorOther
}
