package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	errAuthorizationHeaderRequired = errors.New("an Authorization header is required")
	errInvalidToken                = errors.New("invalid token")
)

type authWrapper struct {
	tokens  []string
	handler http.Handler
	ctx     context.Context
}

func (aw *authWrapper) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(aw.ctx, r)

	prefix := "token "
	if !strings.HasPrefix(r.Header.Get("Authorization"), prefix) {
		respondError(ctx, w, http.StatusUnauthorized, errAuthorizationHeaderRequired)
		return
	}

	actualToken := []byte(r.Header.Get("Authorization")[len(prefix):])
	for _, token := range aw.tokens {
		if subtle.ConstantTimeCompare([]byte(token), actualToken) == 1 {
			aw.handler.ServeHTTP(w, r)
			return
		}
	}

	respondError(ctx, w, http.StatusUnauthorized, errInvalidToken)
}
