// Package jupiter builds SOL to token swap transactions through the
// Jupiter swap API.
package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bags-claim-sniper/internal/logger"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://lite-api.jup.ag/swap/v1"

	// MinPriorityFeeLamports is enforced even when a user configures less.
	MinPriorityFeeLamports uint64 = 100

	computeUnitPriceMicroLamports uint64 = 10000
)

var solMint = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

// Quote is a Jupiter route. Raw holds the response verbatim so it can be
// echoed back to the swap endpoint unchanged.
type Quote struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
	SlippageBps    int    `json:"slippageBps"`

	Raw json.RawMessage `json:"-"`
}

type swapRequest struct {
	QuoteResponse                 json.RawMessage `json:"quoteResponse"`
	UserPublicKey                 string          `json:"userPublicKey"`
	WrapAndUnwrapSol              bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit       bool            `json:"dynamicComputeUnitLimit"`
	PrioritizationFeeLamports     uint64          `json:"prioritizationFeeLamports"`
	ComputeUnitPriceMicroLamports uint64          `json:"computeUnitPriceMicroLamports"`
}

type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Client is safe for concurrent use. Requests are paced by a shared limiter.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

func NewClient(baseURL string, requestsPerSecond float64, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// Quote asks for the best route spending lamportsIn SOL on outputMint.
func (c *Client) Quote(ctx context.Context, outputMint solana.PublicKey, lamportsIn uint64, slippageBps uint16) (*Quote, error) {
	query := url.Values{
		"inputMint":   {solMint.String()},
		"outputMint":  {outputMint.String()},
		"amount":      {strconv.FormatUint(lamportsIn, 10)},
		"slippageBps": {strconv.Itoa(int(slippageBps))},
	}

	body, err := c.do(ctx, http.MethodGet, "/quote?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("jupiter quote: %w", err)
	}

	var quote Quote
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, fmt.Errorf("decode jupiter quote: %w", err)
	}
	quote.Raw = body

	logrus.WithFields(logrus.Fields{
		"token":        logger.ShortKey(outputMint.String(), 8),
		"in":           logger.FormatSOL(float64(lamportsIn) / float64(solana.LAMPORTS_PER_SOL)),
		"out":          quote.OutAmount,
		"price_impact": quote.PriceImpactPct + "%",
	}).Info("📊 Jupiter quote")

	return &quote, nil
}

// SwapTransaction returns the unsigned base64 transaction executing quote
// for payer.
func (c *Client) SwapTransaction(ctx context.Context, quote *Quote, payer solana.PublicKey, priorityFeeLamports uint64) (string, error) {
	if priorityFeeLamports < MinPriorityFeeLamports {
		priorityFeeLamports = MinPriorityFeeLamports
	}

	payload, err := json.Marshal(swapRequest{
		QuoteResponse:                 quote.Raw,
		UserPublicKey:                 payer.String(),
		WrapAndUnwrapSol:              true,
		DynamicComputeUnitLimit:       true,
		PrioritizationFeeLamports:     priorityFeeLamports,
		ComputeUnitPriceMicroLamports: computeUnitPriceMicroLamports,
	})
	if err != nil {
		return "", fmt.Errorf("encode swap request: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/swap", payload)
	if err != nil {
		return "", fmt.Errorf("jupiter swap: %w", err)
	}

	var resp swapResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode jupiter swap: %w", err)
	}
	if resp.SwapTransaction == "" {
		return "", fmt.Errorf("jupiter swap: no swapTransaction in response")
	}

	logrus.WithField("payer", logger.ShortKey(payer.String(), 8)).Debug("📝 Jupiter swap transaction received")
	return resp.SwapTransaction, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 256))
	}
	return body, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
