package nntp

import (
	"errors"
	"net/textproto"
)

var (
	// ErrArticleMissing: 423/430, the article is not on this server.
	ErrArticleMissing = errors.New("article not found on server")
	// ErrAuthRejected: 481/482, credentials refused.
	ErrAuthRejected = errors.New("authentication rejected")
	// ErrQuotaExceeded: 502, account out of credit or connections.
	ErrQuotaExceeded = errors.New("account quota exceeded")
	// ErrServerFault: 400/5xx, the server itself is in trouble.
	ErrServerFault = errors.New("server error")
)

// mapCode turns a textproto reply error into one of the sentinel errors
// the pool and queue dispatch on. Unknown codes pass through unchanged.
func mapCode(err error) error {
	var tpErr *textproto.Error
	if !errors.As(err, &tpErr) {
		return err
	}

	switch tpErr.Code {
	case 423, 430:
		return ErrArticleMissing
	case 481, 482:
		return ErrAuthRejected
	case 502:
		return ErrQuotaExceeded
	case 400, 500, 503:
		return ErrServerFault
	}
	if tpErr.Code >= 500 {
		return ErrServerFault
	}
	return err
}
