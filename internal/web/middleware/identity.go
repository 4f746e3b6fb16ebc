package middleware

import (
	"net/http"
	"strings"

	"github.com/JonMunkholm/formexport/internal/core"
)

// Identity records the authenticated user, as asserted by the fronting
// proxy in header, as the export owner on the request context.
//
// The header is honored only from trusted proxies. With an empty proxy list
// every caller is trusted, which suits local development only.
//
// Must run before TrustedRealIP, which rewrites RemoteAddr.
func Identity(header string, proxies ProxyList) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner := strings.TrimSpace(r.Header.Get(header))
			if owner != "" && (len(proxies) == 0 || proxies.Contains(r.RemoteAddr)) {
				r = r.WithContext(core.ContextWithOwner(r.Context(), owner))
			}
			next.ServeHTTP(w, r)
		})
	}
}
