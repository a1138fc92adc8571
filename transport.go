package oramacore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-resty/resty/v2"
)

// restTransport is the single path to the network: JSON request/response
// calls and raw streaming bodies, with credential placement delegated to the
// authContext. Writes retry exactly once after a 401, behind a fresh token.
type restTransport struct {
	client *resty.Client
	auth   *authContext
	logger *slog.Logger
}

func newRestTransport(baseURL string, auth *authContext) *restTransport {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json")
	return &restTransport{
		client: client,
		auth:   auth,
		logger: slog.Default(),
	}
}

func (t *restTransport) doJSON(ctx context.Context, method, path string, body, out any, kind credentialKind) error {
	resp, err := t.send(ctx, method, path, body, out, kind)
	if err != nil {
		return err
	}
	if resp.StatusCode() == http.StatusUnauthorized && kind == credentialWrite {
		t.auth.invalidate()
		resp, err = t.send(ctx, method, path, body, out, kind)
		if err != nil {
			return err
		}
	}
	if resp.IsError() {
		return fmt.Errorf("request to %s failed: %s: %s", path, resp.Status(), resp.String())
	}
	return nil
}

func (t *restTransport) send(ctx context.Context, method, path string, body, out any, kind credentialKind) (*resty.Response, error) {
	req := t.client.R().SetContext(ctx)
	if err := t.auth.apply(ctx, req, kind); err != nil {
		return nil, err
	}
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	return resp, nil
}

// openStream POSTs body to path and hands back the raw response body.
// The caller owns the stream and must close it; cancelling ctx closes the
// underlying connection and surfaces as a read error in the consumer loop.
func (t *restTransport) openStream(ctx context.Context, path string, body any) (io.ReadCloser, error) {
	req := t.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "text/event-stream").
		SetHeader("Accept-Encoding", "identity").
		SetBody(body)
	if err := t.auth.apply(ctx, req, credentialRead); err != nil {
		return nil, err
	}
	resp, err := req.Post(path)
	if err != nil {
		return nil, fmt.Errorf("opening stream %s failed: %w", path, err)
	}
	if resp.IsError() {
		raw := resp.RawBody()
		detail, _ := io.ReadAll(io.LimitReader(raw, 4096))
		if closeErr := raw.Close(); closeErr != nil {
			t.logger.Warn("unable to close error response body", "error", closeErr)
		}
		return nil, fmt.Errorf("opening stream %s failed: %s: %s", path, resp.Status(), string(detail))
	}
	return resp.RawBody(), nil
}
