package handlers

import (
	"net/http"
	"sync/atomic"

	apperrors "github.com/keyrelay/keyrelay/internal/errors"
)

// ErrorResponder writes an ops error response.
type ErrorResponder func(http.ResponseWriter, *http.Request, error)

var errorResponder atomic.Pointer[ErrorResponder]

// SetHTTPErrorResponder lets the server route handler errors through its own
// error writer. nil restores apperrors.RespondWithError.
func SetHTTPErrorResponder(responder func(http.ResponseWriter, *http.Request, error)) {
	if responder == nil {
		errorResponder.Store(nil)
		return
	}
	fn := ErrorResponder(responder)
	errorResponder.Store(&fn)
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	if fn := errorResponder.Load(); fn != nil {
		(*fn)(w, r, err)
		return
	}
	apperrors.RespondWithError(w, r, err)
}
