package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/bizledger-backend/api/responses"
	"github.com/angelmondragon/bizledger-backend/api/validators"
	"github.com/angelmondragon/bizledger-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/bizledger-backend/pkg/errors"
	"github.com/angelmondragon/bizledger-backend/pkg/logger"
)

// RateLimiterStore counts attempts per scope inside a fixed window. The Redis
// client satisfies it and namespaces the keys.
type RateLimiterStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// LoginLimits throttles login attempts per client IP and per email. A zero
// limit disables that dimension.
type LoginLimits struct {
	Window     time.Duration
	IPLimit    int
	EmailLimit int
}

// LoginLimitsFromConfig maps the env-driven settings.
func LoginLimitsFromConfig(cfg config.AuthRateLimitConfig) LoginLimits {
	return LoginLimits{Window: cfg.LoginWindow, IPLimit: cfg.LoginIPLimit, EmailLimit: cfg.LoginEmailLimit}
}

func (l LoginLimits) enabled() bool {
	return l.Window > 0 && (l.IPLimit > 0 || l.EmailLimit > 0)
}

// LoginRateLimit rejects login bursts with 429 and a Retry-After header. It
// runs before credentials are checked so it also shields the Master DB.
// When the counter store errors the request is let through: account lockout
// still applies.
func LoginRateLimit(limits LoginLimits, store RateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil || !limits.enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if limits.IPLimit > 0 {
				if ip := ClientIP(r); ip != "" && !allow(ctx, w, store, logg, limits, "login:ip:"+ip, limits.IPLimit) {
					return
				}
			}
			if limits.EmailLimit > 0 {
				email, err := peekEmail(r)
				if err != nil {
					responses.WriteError(ctx, logg, w, err)
					return
				}
				if email != "" && !allow(ctx, w, store, logg, limits, "login:email:"+hashEmail(email), limits.EmailLimit) {
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// allow reports whether the request may continue. On false it has already
// written the 429.
func allow(ctx context.Context, w http.ResponseWriter, store RateLimiterStore, logg *logger.Logger, limits LoginLimits, scope string, limit int) bool {
	ok, count, err := store.FixedWindowAllow(ctx, scope, int64(limit), limits.Window)
	if err != nil {
		logg.Error(logg.WithField(ctx, "scope", scope), "rate limit store unavailable, allowing request", err)
		return true
	}
	if ok {
		return true
	}

	logg.Warn(logg.WithFields(ctx, map[string]any{
		"scope":    scope,
		"attempts": count,
		"limit":    limit,
	}), "login rate limit exceeded")

	retryAfter := int(limits.Window.Round(time.Second).Seconds())
	w.Header().Set("Retry-After", strconv.Itoa(max(retryAfter, 1)))
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many login attempts, try again later").
		WithDetails(map[string]any{"retry_after_seconds": retryAfter}))
	return false
}

// peekEmail reads the login body, restores it for the handler and returns the
// normalized email. Malformed JSON yields "" and is rejected downstream.
func peekEmail(r *http.Request) (string, error) {
	if r.Body == nil {
		return "", nil
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, validators.MaxBodyBytes+1))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "reading request body")
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))

	var body struct {
		Email string `json:"email"`
	}
	if json.Unmarshal(raw, &body) != nil {
		return "", nil
	}
	return strings.ToLower(strings.TrimSpace(body.Email)), nil
}

// Emails are hashed so counters in Redis carry no personal data.
func hashEmail(email string) string {
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:16])
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// socket peer.
func ClientIP(r *http.Request) string {
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		if ip := strings.TrimSpace(strings.Split(header, ",")[0]); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
