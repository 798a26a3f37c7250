// Package auth verifies Supabase-style bearer tokens and gates pro features,
// including the one-time free trial.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"manin/internal/cache"
)

// Config holds the token secret and pro overrides
type Config struct {
	JWTSecret   string   `yaml:"jwt_secret"`
	AdminEmails []string `yaml:"admin_emails"`
	Disabled    bool     `yaml:"disabled"` // every caller is an anonymous pro user
}

// Error messages returned to clients
const (
	MsgAuthRequired = "Authentication required"
	MsgInvalidToken = "Invalid or expired token"
	MsgTrialExpired = "Free trial expired. Upgrade to Pro for lifetime access."
)

// ErrNoSecret is returned when auth is enabled without a signing secret
var ErrNoSecret = errors.New("jwt secret not configured")

// AppMetadata is the server-controlled part of the token
type AppMetadata struct {
	SubscriptionStatus string `json:"subscription_status,omitempty"`
	HasUsedTrial       bool   `json:"has_used_trial,omitempty"`
}

// UserMetadata is the user-editable part of the token
type UserMetadata struct {
	IsPro        bool `json:"is_pro,omitempty"`
	HasUsedTrial bool `json:"has_used_trial,omitempty"`
}

// Claims mirrors the Supabase access token. The user id is the subject.
type Claims struct {
	Email        string       `json:"email,omitempty"`
	AppMetadata  AppMetadata  `json:"app_metadata"`
	UserMetadata UserMetadata `json:"user_metadata"`
	jwt.RegisteredClaims
}

// UserID returns the token subject
func (c *Claims) UserID() string { return c.Subject }

// TrialUsed reports whether the token itself marks the trial as spent
func (c *Claims) TrialUsed() bool {
	return c.AppMetadata.HasUsedTrial || c.UserMetadata.HasUsedTrial
}

// Verifier validates HS256 tokens
type Verifier struct {
	secret   []byte
	admins   map[string]bool
	disabled bool
}

// NewVerifier creates a verifier. It fails when auth is enabled and no
// secret is configured.
func NewVerifier(cfg Config) (*Verifier, error) {
	if !cfg.Disabled && cfg.JWTSecret == "" {
		return nil, ErrNoSecret
	}
	admins := make(map[string]bool, len(cfg.AdminEmails))
	for _, e := range cfg.AdminEmails {
		admins[strings.ToLower(strings.TrimSpace(e))] = true
	}
	return &Verifier{secret: []byte(cfg.JWTSecret), admins: admins, disabled: cfg.Disabled}, nil
}

// Disabled reports whether every caller is let through
func (v *Verifier) Disabled() bool { return v.disabled }

// Parse validates a token string and returns its claims
func (v *Verifier) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}

// Sign issues a token for claims, valid for ttl
func (v *Verifier) Sign(claims Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// IsPro reports a paid subscription, the is_pro flag or an admin email
func (v *Verifier) IsPro(c *Claims) bool {
	if c == nil {
		return false
	}
	if v.disabled {
		return true
	}
	return c.AppMetadata.SubscriptionStatus == "active" ||
		c.UserMetadata.IsPro ||
		v.admins[strings.ToLower(c.Email)]
}

// TrialLedger records consumed free trials in the cache store
type TrialLedger struct {
	store cache.Store
}

// NewTrialLedger creates a ledger
func NewTrialLedger(store cache.Store) *TrialLedger {
	return &TrialLedger{store: store}
}

type trialEntry struct {
	UsedAt time.Time `json:"usedAt"`
}

func trialKey(userID string) string { return "trial:" + userID }

// Used reports whether userID has consumed the trial
func (l *TrialLedger) Used(ctx context.Context, userID string) (bool, error) {
	_, ok, err := l.store.GetStale(ctx, trialKey(userID))
	if err != nil {
		return false, fmt.Errorf("trial lookup: %w", err)
	}
	return ok, nil
}

// Consume marks the trial of userID as spent
func (l *TrialLedger) Consume(ctx context.Context, userID string) error {
	return cache.SetJSON(ctx, l.store, trialKey(userID), trialEntry{UsedAt: time.Now().UTC()})
}

type ctxKey struct{}

// FromContext returns the claims stored by RequireUser
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Claims)
	return c, ok
}

// WithClaims stores claims in ctx
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// anonymous is the caller when auth is disabled
var anonymous = &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "anonymous"}}

// RequireUser rejects requests without a valid bearer token
func (v *Verifier) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v.disabled {
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), anonymous)))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			// browsers cannot set headers on websocket upgrades
			if t := r.URL.Query().Get("token"); t != "" {
				authHeader = "Bearer " + t
			}
		}
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, MsgAuthRequired)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, MsgAuthRequired)
			return
		}

		claims, err := v.Parse(strings.TrimSpace(parts[1]))
		if err != nil {
			log.Debug().Err(err).Msg("token rejected")
			writeError(w, http.StatusUnauthorized, MsgInvalidToken)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// RequirePro lets pro users through and grants everyone else a single
// trial request, consumed on the way in. It wraps RequireUser.
func (v *Verifier) RequirePro(ledger *TrialLedger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return v.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, _ := FromContext(r.Context())
			if v.IsPro(claims) {
				next.ServeHTTP(w, r)
				return
			}

			if claims.TrialUsed() {
				writeError(w, http.StatusForbidden, MsgTrialExpired)
				return
			}

			used, err := ledger.Used(r.Context(), claims.UserID())
			if err != nil {
				// a broken ledger must not lock out trial users
				log.Warn().Err(err).Str("user", claims.UserID()).Msg("trial check failed")
			}
			if used {
				writeError(w, http.StatusForbidden, MsgTrialExpired)
				return
			}

			if err := ledger.Consume(r.Context(), claims.UserID()); err != nil {
				log.Warn().Err(err).Str("user", claims.UserID()).Msg("trial consume failed")
			}
			next.ServeHTTP(w, r)
		}))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"status": "error", "detail": msg})
}
