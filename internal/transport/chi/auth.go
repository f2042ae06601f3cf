package chi

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"go.uber.org/zap"

	logpkg "github.com/kailas-cloud/ragdex/internal/logger"
)

const bearerPrefix = "Bearer "

// Probes and scrapers never carry a key.
var exemptPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

// BearerAuthMiddleware rejects requests whose Bearer token is not one of
// apiKeys. Empty keys are ignored; with none left the middleware is a no-op.
// Accepted requests get the key fingerprint on their logger as api_key_id.
func BearerAuthMiddleware(apiKeys []string) func(http.Handler) http.Handler {
	keys := make([][]byte, 0, len(apiKeys))
	for _, k := range apiKeys {
		if k != "" {
			keys = append(keys, []byte(k))
		}
	}

	return func(next http.Handler) http.Handler {
		if len(keys) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			token, msg := parseAuthorization(r.Header.Get("Authorization"))
			if msg == "" && !knownKey(keys, []byte(token)) {
				msg = "invalid api key"
			}
			if msg != "" {
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, msg)
				return
			}

			ctx := logpkg.With(r.Context(), nil, zap.String("api_key_id", keyID(token)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// parseAuthorization extracts the Bearer token, or explains what is wrong.
func parseAuthorization(header string) (token, problem string) {
	switch {
	case header == "":
		return "", "missing authorization header"
	case !strings.HasPrefix(header, bearerPrefix):
		return "", "authorization header must use Bearer scheme"
	}
	return header[len(bearerPrefix):], ""
}

// knownKey compares against every key in constant time.
func knownKey(keys [][]byte, token []byte) bool {
	found := 0
	for _, k := range keys {
		found |= subtle.ConstantTimeCompare(k, token)
	}
	return found == 1
}

// bearerToken returns the presented token, if any.
func bearerToken(r *http.Request) string {
	token, problem := parseAuthorization(r.Header.Get("Authorization"))
	if problem != "" {
		return ""
	}
	return token
}

// keyID is a short non-reversible fingerprint, safe to log and to key maps by.
func keyID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:4])
}
