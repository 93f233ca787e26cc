package venue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/quantfall/polyflow/market"
)

const (
	defaultGammaURL = "https://gamma-api.polymarket.com"
	defaultClobURL  = "https://clob.polymarket.com"
)

// ClientConfig carries endpoints and credentials for the live exchange.
type ClientConfig struct {
	GammaURL   string
	ClobURL    string
	APIKey     string
	APISecret  string
	Passphrase string

	// RequestsPerSecond throttles all outbound calls.
	RequestsPerSecond float64
	Timeout           time.Duration
	MaxRetries        int
}

func (c *ClientConfig) defaults() {
	if c.GammaURL == "" {
		c.GammaURL = defaultGammaURL
	}
	if c.ClobURL == "" {
		c.ClobURL = defaultClobURL
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
}

// Client talks to the Polymarket gamma (market discovery) and CLOB (orders,
// books) REST APIs. It implements Venue and market.Source.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

func NewClient(cfg ClientConfig, log zerolog.Logger) *Client {
	cfg.defaults()
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		log:     log,
	}
}

// gammaMarket mirrors the gamma API wire shape. Token IDs and outcome
// prices arrive as JSON arrays encoded inside strings.
type gammaMarket struct {
	ID             string  `json:"id"`
	Question       string  `json:"question"`
	Slug           string  `json:"slug"`
	ClobTokenIDs   string  `json:"clobTokenIds"`
	OutcomePrices  string  `json:"outcomePrices"`
	Volume24h      float64 `json:"volume24hr"`
	Liquidity      float64 `json:"liquidityNum"`
	EndDate        string  `json:"endDate"`
	Active         bool    `json:"active"`
	Closed         bool    `json:"closed"`
	EventSlug      string  `json:"eventSlug"`
	NegRiskEventID string  `json:"negRiskMarketID"`
}

// Markets fetches the active binary universe above minVolume.
func (c *Client) Markets(minVolume float64) ([]market.Market, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()

	u := fmt.Sprintf("%s/markets?active=true&closed=false&limit=500", c.cfg.GammaURL)
	var raw []gammaMarket
	if err := c.getJSON(ctx, u, &raw); err != nil {
		return nil, fmt.Errorf("fetch markets: %w", err)
	}

	out := make([]market.Market, 0, len(raw))
	for _, g := range raw {
		if g.Closed || !g.Active || g.Volume24h < minVolume {
			continue
		}
		m, err := g.toMarket()
		if err != nil {
			c.log.Debug().Err(err).Str("market", g.ID).Msg("skipping unparseable market")
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (g gammaMarket) toMarket() (market.Market, error) {
	var tokens []string
	if err := json.Unmarshal([]byte(g.ClobTokenIDs), &tokens); err != nil || len(tokens) != 2 {
		return market.Market{}, fmt.Errorf("market %s: bad token ids %q", g.ID, g.ClobTokenIDs)
	}
	var prices []string
	if err := json.Unmarshal([]byte(g.OutcomePrices), &prices); err != nil || len(prices) != 2 {
		return market.Market{}, fmt.Errorf("market %s: bad outcome prices %q", g.ID, g.OutcomePrices)
	}
	yes, err := strconv.ParseFloat(prices[0], 64)
	if err != nil {
		return market.Market{}, err
	}
	no, err := strconv.ParseFloat(prices[1], 64)
	if err != nil {
		return market.Market{}, err
	}

	group := g.NegRiskEventID
	if group == "" {
		group = g.EventSlug
	}
	end, _ := time.Parse(time.RFC3339, g.EndDate)

	return market.Market{
		ID:               g.ID,
		Question:         g.Question,
		Slug:             g.Slug,
		YesTokenID:       tokens[0],
		NoTokenID:        tokens[1],
		YesPrice:         yes,
		NoPrice:          no,
		Volume24h:        g.Volume24h,
		Liquidity:        g.Liquidity,
		CorrelationGroup: group,
		EndDate:          end,
		Active:           g.Active,
	}, nil
}

type clobOrderRequest struct {
	ClientID string `json:"client_order_id"`
	TokenID  string `json:"token_id"`
	Side     string `json:"side"`
	Price    string `json:"price"`
	Size     string `json:"size"`
	Type     string `json:"order_type"`
}

type clobOrderResponse struct {
	OrderID    string `json:"order_id"`
	ClientID   string `json:"client_order_id"`
	Status     string `json:"status"`
	FilledSize string `json:"size_matched"`
	AvgPrice   string `json:"price"`
}

func (r clobOrderResponse) toResult() OrderResult {
	filled, _ := strconv.ParseFloat(r.FilledSize, 64)
	px, _ := strconv.ParseFloat(r.AvgPrice, 64)
	res := OrderResult{
		OrderID:    r.OrderID,
		ClientID:   r.ClientID,
		FilledSize: filled,
		FillPrice:  px,
		At:         time.Now(),
	}
	switch r.Status {
	case "matched", "filled":
		res.Status = Filled
	case "live", "delayed":
		res.Status = Pending
	case "unmatched", "killed", "canceled":
		res.Status = Unfilled
	default:
		res.Status = Rejected
	}
	return res
}

func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	body := clobOrderRequest{
		ClientID: req.ClientID,
		TokenID:  req.TokenID,
		Side:     string(req.Side),
		Price:    strconv.FormatFloat(req.Price, 'f', 4, 64),
		Size:     strconv.FormatFloat(req.Size, 'f', 2, 64),
		Type:     string(req.Type),
	}
	var resp clobOrderResponse
	// Submissions are not retried here: the client order ID makes a replay
	// safe, but ambiguity resolution belongs to the execution layer.
	if err := c.do(ctx, http.MethodPost, c.cfg.ClobURL+"/order", body, &resp); err != nil {
		return OrderResult{}, fmt.Errorf("submit order %s: %w", req.ClientID, err)
	}
	return resp.toResult(), nil
}

func (c *Client) OrderStatus(ctx context.Context, clientID string) (OrderResult, error) {
	u := fmt.Sprintf("%s/data/order?client_order_id=%s", c.cfg.ClobURL, url.QueryEscape(clientID))
	var resp clobOrderResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return OrderResult{}, fmt.Errorf("order status %s: %w", clientID, err)
	}
	if resp.OrderID == "" {
		return OrderResult{}, ErrUnknownOrder
	}
	return resp.toResult(), nil
}

func (c *Client) CancelOrder(ctx context.Context, clientID string) error {
	body := map[string]string{"client_order_id": clientID}
	if err := c.do(ctx, http.MethodDelete, c.cfg.ClobURL+"/order", body, nil); err != nil {
		return fmt.Errorf("cancel order %s: %w", clientID, err)
	}
	return nil
}

// clobBook mirrors the CLOB book endpoint; prices and sizes are strings.
type clobBook struct {
	AssetID string      `json:"asset_id"`
	Bids    []clobLevel `json:"bids"`
	Asks    []clobLevel `json:"asks"`
	Hash    string      `json:"hash"`
}

type clobLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

func (c *Client) Book(ctx context.Context, tokenID string) (market.Book, error) {
	u := fmt.Sprintf("%s/book?token_id=%s", c.cfg.ClobURL, url.QueryEscape(tokenID))
	var raw clobBook
	if err := c.getJSON(ctx, u, &raw); err != nil {
		return market.Book{}, fmt.Errorf("fetch book %s: %w", tokenID, err)
	}

	b := market.Book{TokenID: tokenID, Time: time.Now()}
	for _, lvl := range raw.Bids {
		b.Bids = append(b.Bids, lvl.toLevel())
	}
	for _, lvl := range raw.Asks {
		b.Asks = append(b.Asks, lvl.toLevel())
	}
	// The wire orders bids ascending and asks descending; flip to best-first.
	reverse(b.Bids)
	reverse(b.Asks)
	return b, nil
}

func (l clobLevel) toLevel() market.PriceLevel {
	px, _ := strconv.ParseFloat(l.Price, 64)
	sz, _ := strconv.ParseFloat(l.Size, 64)
	return market.PriceLevel{Price: px, Size: sz}
}

func reverse(levels []market.PriceLevel) {
	for i, j := 0, len(levels)-1; i < j; i, j = i+1, j-1 {
		levels[i], levels[j] = levels[j], levels[i]
	}
}

// getJSON is a retrying GET. Reads are safe to retry; anything else goes
// through do exactly once.
func (c *Client) getJSON(ctx context.Context, url string, v any) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		lastErr = c.do(ctx, http.MethodGet, url, nil, v)
		if lastErr == nil {
			return nil
		}
		c.log.Debug().Err(lastErr).Int("attempt", attempt+1).Str("url", url).Msg("retrying request")
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, method, url string, body, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var payload []byte
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = buf
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		sig, err := signRequest(c.cfg.APISecret, ts, method, req.URL.RequestURI(), payload)
		if err != nil {
			return err
		}
		req.Header.Set("POLY-API-KEY", c.cfg.APIKey)
		req.Header.Set("POLY-PASSPHRASE", c.cfg.Passphrase)
		req.Header.Set("POLY-TIMESTAMP", ts)
		req.Header.Set("POLY-SIGNATURE", sig)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, url, resp.StatusCode, b)
	}
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
