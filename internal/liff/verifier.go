// Package liff authenticates mini-app callers by their LINE access token.
package liff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	ErrMissingToken = errors.New("missing access token")
	ErrInvalidToken = errors.New("invalid access token")
)

const maxCacheTTL = 5 * time.Minute

type Profile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	PictureURL  string `json:"pictureUrl,omitempty"`
}

type verifyResponse struct {
	Scope     string `json:"scope"`
	ClientID  string `json:"client_id"`
	ExpiresIn int64  `json:"expires_in"`
}

type cachedProfile struct {
	profile Profile
	expires time.Time
}

type Options struct {
	BaseURL   string
	ChannelID string
	Client    *http.Client
	CacheSize int
}

// Verifier checks a token against the LINE verify endpoint and resolves the
// caller's profile. Verified tokens are cached until shortly before expiry.
type Verifier struct {
	baseURL   string
	channelID string
	client    *http.Client
	cache     *lru.Cache[string, cachedProfile]
	mu        sync.Mutex
	now       func() time.Time
}

func NewVerifier(options Options) (*Verifier, error) {
	baseURL := strings.TrimRight(options.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.line.me"
	}
	client := options.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	size := options.CacheSize
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, cachedProfile](size)
	if err != nil {
		return nil, err
	}
	return &Verifier{
		baseURL:   baseURL,
		channelID: options.ChannelID,
		client:    client,
		cache:     cache,
		now:       time.Now,
	}, nil
}

func (v *Verifier) Verify(ctx context.Context, token string) (Profile, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Profile{}, ErrMissingToken
	}
	if profile, ok := v.cached(token); ok {
		return profile, nil
	}

	verified, err := v.verify(ctx, token)
	if err != nil {
		return Profile{}, err
	}
	if v.channelID != "" && verified.ClientID != v.channelID {
		return Profile{}, ErrInvalidToken
	}
	profile, err := v.profile(ctx, token)
	if err != nil {
		return Profile{}, err
	}

	ttl := time.Duration(verified.ExpiresIn) * time.Second
	if ttl > maxCacheTTL {
		ttl = maxCacheTTL
	}
	if ttl > 0 {
		v.mu.Lock()
		v.cache.Add(token, cachedProfile{profile: profile, expires: v.now().Add(ttl)})
		v.mu.Unlock()
	}
	return profile, nil
}

func (v *Verifier) cached(token string) (Profile, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	entry, ok := v.cache.Get(token)
	if !ok {
		return Profile{}, false
	}
	if !v.now().Before(entry.expires) {
		v.cache.Remove(token)
		return Profile{}, false
	}
	return entry.profile, true
}

func (v *Verifier) verify(ctx context.Context, token string) (verifyResponse, error) {
	endpoint := v.baseURL + "/oauth2/v2.1/verify?access_token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return verifyResponse{}, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return verifyResponse{}, fmt.Errorf("verify token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return verifyResponse{}, ErrInvalidToken
	}
	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return verifyResponse{}, fmt.Errorf("decode verify response: %w", err)
	}
	return out, nil
}

func (v *Verifier) profile(ctx context.Context, token string) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/v2/profile", nil)
	if err != nil {
		return Profile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := v.client.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("fetch profile: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return Profile{}, ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("fetch profile: status %d", resp.StatusCode)
	}
	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	if profile.UserID == "" {
		return Profile{}, ErrInvalidToken
	}
	return profile, nil
}

type contextKey struct{}

func WithProfile(ctx context.Context, profile Profile) context.Context {
	return context.WithValue(ctx, contextKey{}, profile)
}

func ProfileFromContext(ctx context.Context) (Profile, bool) {
	profile, ok := ctx.Value(contextKey{}).(Profile)
	return profile, ok
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
