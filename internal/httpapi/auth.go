package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"qms/clinic-queue/internal/liff"

	"golang.org/x/crypto/bcrypt"
)

// KeyAuth checks the operator key presented as a bearer token. A bcrypt
// hash, when configured, takes precedence over the plain key.
type KeyAuth struct {
	key  string
	hash []byte
}

func NewKeyAuth(key, bcryptHash string) *KeyAuth {
	auth := &KeyAuth{key: strings.TrimSpace(key)}
	if hash := strings.TrimSpace(bcryptHash); hash != "" {
		auth.hash = []byte(hash)
	}
	return auth
}

func (a *KeyAuth) Enabled() bool {
	return a.key != "" || len(a.hash) > 0
}

func (a *KeyAuth) Valid(presented string) bool {
	if presented == "" {
		return false
	}
	if len(a.hash) > 0 {
		return bcrypt.CompareHashAndPassword(a.hash, []byte(presented)) == nil
	}
	if a.key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a.key), []byte(presented)) == 1
}

func (a *KeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if !a.Valid(liff.BearerToken(r.Header.Get("Authorization"))) {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AuthorizeRealtime accepts the key as a bearer token or a key query
// parameter.
func (a *KeyAuth) AuthorizeRealtime(r *http.Request) bool {
	if r == nil {
		return false
	}
	if token := liff.BearerToken(r.Header.Get("Authorization")); token != "" {
		return a.Valid(token)
	}
	return a.Valid(strings.TrimSpace(r.URL.Query().Get("key")))
}
