package oramacore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
)

type credentialKind int

const (
	credentialRead credentialKind = iota
	credentialWrite
	credentialMaster
)

const (
	jwtExchangePath = "/v1/auth/jwt"

	// Tokens whose exp claim cannot be read are refreshed on this cadence.
	jwtFallbackTTL = 5 * time.Minute
	jwtExpirySkew  = 30 * time.Second
)

// authContext selects and places the credential for each request: long-lived
// API keys travel as a bearer header, while write operations use a
// short-lived token obtained from the JWT exchange endpoint and placed as a
// query parameter. The exchange happens lazily on first write access and
// again after a 401.
type authContext struct {
	readAPIKey   string
	writeAPIKey  string
	masterAPIKey string
	exchange     *resty.Client

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func newAuthContext(baseURL, readAPIKey, writeAPIKey, masterAPIKey string) *authContext {
	return &authContext{
		readAPIKey:   readAPIKey,
		writeAPIKey:  writeAPIKey,
		masterAPIKey: masterAPIKey,
		exchange:     resty.New().SetBaseURL(baseURL),
	}
}

// apply injects the credential for kind into req, exchanging for a fresh
// token first when a write credential is required.
func (a *authContext) apply(ctx context.Context, req *resty.Request, kind credentialKind) error {
	switch kind {
	case credentialRead:
		if a.readAPIKey == "" {
			return ErrNoReadAPIKey
		}
		req.SetHeader("Authorization", "Bearer "+a.readAPIKey)
	case credentialMaster:
		if a.masterAPIKey == "" {
			return ErrNoMasterAPIKey
		}
		req.SetHeader("Authorization", "Bearer "+a.masterAPIKey)
	case credentialWrite:
		token, err := a.writeToken(ctx)
		if err != nil {
			return err
		}
		req.SetQueryParam("token", token)
	}
	return nil
}

func (a *authContext) writeToken(ctx context.Context) (string, error) {
	if a.writeAPIKey == "" {
		return "", ErrNoWriteAPIKey
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token != "" && time.Now().Before(a.expiry.Add(-jwtExpirySkew)) {
		return a.token, nil
	}

	var out struct {
		JWT string `json:"jwt"`
	}
	resp, err := a.exchange.R().
		SetContext(ctx).
		SetBody(map[string]string{"api_key": a.writeAPIKey, "scope": "write"}).
		SetResult(&out).
		Post(jwtExchangePath)
	if err != nil {
		return "", fmt.Errorf("jwt exchange failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("jwt exchange failed: %s: %s", resp.Status(), resp.String())
	}
	if out.JWT == "" {
		return "", fmt.Errorf("jwt exchange returned an empty token")
	}

	a.token = out.JWT
	a.expiry = tokenExpiry(out.JWT)
	return a.token, nil
}

// invalidate drops the cached token so the next write re-exchanges. Called
// by the transport after a 401 before its single retry.
func (a *authContext) invalidate() {
	a.mu.Lock()
	a.token = ""
	a.expiry = time.Time{}
	a.mu.Unlock()
}

// tokenExpiry reads the exp claim without verifying the signature, the
// client only needs it for refresh scheduling.
func tokenExpiry(token string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Now().Add(jwtFallbackTTL)
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Now().Add(jwtFallbackTTL)
	}
	return exp.Time
}
