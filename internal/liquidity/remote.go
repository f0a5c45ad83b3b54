package liquidity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"batch-settler/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout    = 5 * time.Second
	DefaultMaxRetries = 2
	DefaultRetryDelay = 200 * time.Millisecond
)

// RemoteQuoter queries an external quoting API over HTTP. It retries
// transient failures with backoff but always gives up before the caller's
// ctx deadline: a slow quoter must not stall a solving round.
type RemoteQuoter struct {
	name       string
	endpoint   string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
}

// RemoteOption configures RemoteQuoter.
type RemoteOption func(*RemoteQuoter)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) RemoteOption {
	return func(q *RemoteQuoter) {
		q.client = client
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) RemoteOption {
	return func(q *RemoteQuoter) {
		q.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) RemoteOption {
	return func(q *RemoteQuoter) {
		q.maxRetries = n
	}
}

// WithRetryDelay sets the delay between retries.
func WithRetryDelay(d time.Duration) RemoteOption {
	return func(q *RemoteQuoter) {
		q.retryDelay = d
	}
}

// NewRemoteQuoter creates a remote quoting source.
func NewRemoteQuoter(name, endpoint string, opts ...RemoteOption) *RemoteQuoter {
	q := &RemoteQuoter{
		name:       name,
		endpoint:   endpoint,
		client:     &http.Client{Timeout: DefaultTimeout},
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Name identifies the quoter source.
func (q *RemoteQuoter) Name() string { return q.name }

// quoteRequest is the wire request.
type quoteRequest struct {
	SellToken  string `json:"sellToken"`
	BuyToken   string `json:"buyToken"`
	SellAmount string `json:"sellAmount"`
}

// quoteResponse is the wire response.
type quoteResponse struct {
	BuyAmount string `json:"buyAmount"`
	Target    string `json:"target"`
	CallData  string `json:"callData"`
	Error     string `json:"error,omitempty"`
}

// Quote requests a price from the remote API with retries.
func (q *RemoteQuoter) Quote(ctx context.Context, sellToken, buyToken common.Address, sellAmount *big.Int) (*Quote, error) {
	req := quoteRequest{
		SellToken:  sellToken.Hex(),
		BuyToken:   buyToken.Hex(),
		SellAmount: sellAmount.String(),
	}

	var lastErr error
	for attempt := 0; attempt <= q.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &QuoteError{Source: q.name, Err: ctx.Err()}
			case <-time.After(q.retryDelay):
			}
		}

		resp, err := q.doRequest(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}
		return q.toQuote(sellToken, buyToken, sellAmount, resp)
	}

	return nil, &QuoteError{Source: q.name, Err: fmt.Errorf("%w: %v", ErrQuoteUnavailable, lastErr)}
}

// doRequest performs one HTTP round trip.
func (q *RemoteQuoter) doRequest(ctx context.Context, req quoteRequest) (*quoteResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal quote request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, q.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build quote request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := q.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("quote request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read quote response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote status %d: %s", httpResp.StatusCode, respBody)
	}

	var resp quoteResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode quote response: %w", err)
	}
	return &resp, nil
}

// toQuote converts a wire response into a Quote.
func (q *RemoteQuoter) toQuote(sellToken, buyToken common.Address, sellAmount *big.Int, resp *quoteResponse) (*Quote, error) {
	if resp.Error != "" {
		return nil, &QuoteError{Source: q.name, Err: fmt.Errorf("%w: %s", ErrInsufficientLiquidity, resp.Error)}
	}

	buyAmount, ok := new(big.Int).SetString(resp.BuyAmount, 10)
	if !ok || buyAmount.Sign() <= 0 {
		return nil, &QuoteError{Source: q.name, Err: fmt.Errorf("%w: bad buy amount %q", ErrQuoteUnavailable, resp.BuyAmount)}
	}

	callData := common.FromHex(resp.CallData)

	return &Quote{
		Source:     q.name,
		SellToken:  sellToken,
		BuyToken:   buyToken,
		SellAmount: new(big.Int).Set(sellAmount),
		BuyAmount:  buyAmount,
		Interaction: domain.Interaction{
			Target:       common.HexToAddress(resp.Target),
			Value:        new(big.Int),
			CallData:     callData,
			InputToken:   sellToken,
			InputAmount:  new(big.Int).Set(sellAmount),
			OutputToken:  buyToken,
			OutputAmount: new(big.Int).Set(buyAmount),
		},
	}, nil
}

var _ Source = (*RemoteQuoter)(nil)
