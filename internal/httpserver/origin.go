package httpserver

import (
	"net/http"
	"net/url"
	"strings"
)

func (s *Server) withOriginPolicy(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		originHeader := strings.TrimSpace(r.Header.Get("Origin"))
		if originHeader == "" {
			next(w, r)
			return
		}

		normalized, ok := normalizeOrigin(originHeader)
		if !ok || !OriginAllowed(normalized, s.cfg.AllowedOrigins) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		// Same-origin requests don't need CORS headers, but setting them is
		// harmless and lets the frontend run on a separate origin in dev.
		w.Header().Set("Access-Control-Allow-Origin", normalized)
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		w.Header().Add("Vary", "Origin")

		next(w, r)
	}
}

// OriginAllowed reports whether origin (already normalized to scheme://host[:port],
// lowercase) is in the allowlist. An empty allowlist accepts every origin.
func OriginAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, entry := range allowed {
		normalized, ok := normalizeOrigin(entry)
		if !ok {
			continue
		}
		if normalized == origin {
			return true
		}
	}
	return false
}

// CheckRequestOrigin is the websocket upgrader's origin hook: browsers always
// send Origin on websocket handshakes, non-browser clients usually don't.
// A missing header is accepted; a present one must pass the allowlist.
func CheckRequestOrigin(r *http.Request, allowed []string) bool {
	originHeader := strings.TrimSpace(r.Header.Get("Origin"))
	if originHeader == "" {
		return true
	}
	normalized, ok := normalizeOrigin(originHeader)
	if !ok {
		return false
	}
	return OriginAllowed(normalized, allowed)
}

func normalizeOrigin(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	if u.Scheme == "" || u.Host == "" || u.Path != "" || u.RawQuery != "" || u.Fragment != "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}
