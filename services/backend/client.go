package backend

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"astroconnect/models"
	"astroconnect/utils"

	"github.com/go-resty/resty/v2"
)

// Client covers the REST reads the session core depends on: the wallet
// balance that seeds a session timer and the server-side chat history used
// to reconcile cached transcripts. Everything else REST-shaped lives in the
// surrounding application.
type Client interface {
	WalletBalance(ctx context.Context) (float64, error)
	ChatHistory(ctx context.Context, sessionID string) (models.Transcript, error)
}

type restClient struct {
	client *resty.Client
	tokens utils.TokenProvider
}

func NewClient(baseURL string, timeout time.Duration, tokens utils.TokenProvider) Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	cli := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)
	return &restClient{client: cli, tokens: tokens}
}

type walletResponse struct {
	Balance float64 `json:"balance"`
}

func (c *restClient) WalletBalance(ctx context.Context) (float64, error) {
	var out walletResponse
	resp, err := c.authorized(ctx)
	if err != nil {
		return 0, err
	}
	res, err := resp.SetResult(&out).Get("/wallet/balance")
	if err != nil {
		return 0, utils.TransportError("wallet balance request", err)
	}
	if err := mapStatus(res); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

type historyResponse struct {
	Messages []models.ReceiveMessagePayload `json:"messages"`
}

func (c *restClient) ChatHistory(ctx context.Context, sessionID string) (models.Transcript, error) {
	var out historyResponse
	resp, err := c.authorized(ctx)
	if err != nil {
		return nil, err
	}
	res, err := resp.SetResult(&out).Get("/sessions/" + sessionID + "/messages")
	if err != nil {
		return nil, utils.TransportError("chat history request", err)
	}
	if err := mapStatus(res); err != nil {
		return nil, err
	}
	// Normalize at the boundary; the redundant wire shapes stop here.
	transcript := make(models.Transcript, 0, len(out.Messages))
	for _, raw := range out.Messages {
		transcript = append(transcript, raw.Normalize())
	}
	return transcript, nil
}

func (c *restClient) authorized(ctx context.Context) (*resty.Request, error) {
	token, err := c.tokens.Token()
	if err != nil || token == "" {
		return nil, utils.AuthError("no bearer token for backend read")
	}
	return c.client.R().SetContext(ctx).SetAuthToken(token), nil
}

func mapStatus(res *resty.Response) error {
	switch {
	case res.StatusCode() == http.StatusUnauthorized, res.StatusCode() == http.StatusForbidden:
		return utils.AuthError("backend rejected token")
	case res.StatusCode() >= 500:
		return utils.TransportError(fmt.Sprintf("backend returned %d", res.StatusCode()), nil)
	case res.StatusCode() >= 400:
		return utils.ProtocolError(fmt.Sprintf("backend returned %d", res.StatusCode()))
	}
	return nil
}
