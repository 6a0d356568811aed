package exchange

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/trapline/traphound/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BETFAIR EXCHANGE CLIENT
// ═══════════════════════════════════════════════════════════════════════════════
//
// JSON-RPC wrapper around the Betfair Exchange betting API:
//   - certificate login + session token, one-shot re-login on session expiry
//   - market catalogue scans for upcoming greyhound WIN markets
//   - market book reads for prices and results
//   - order placement
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	methodListEventTypes    = "SportsAPING/v1.0/listEventTypes"
	methodListMarketCatalog = "SportsAPING/v1.0/listMarketCatalogue"
	methodListMarketBook    = "SportsAPING/v1.0/listMarketBook"
	methodPlaceOrders       = "SportsAPING/v1.0/placeOrders"
	logoutURL               = "https://identitysso.betfair.com/api/logout"
	errCodeInvalidSession   = "INVALID_SESSION_INFORMATION"
	minRequestInterval      = 50 * time.Millisecond // exchange allows ~20 req/s
	runnerStatusWinner      = "WINNER"
)

// ErrResultNotAvailable is returned by Outcome when the market book carries no
// winner yet (result not published, or market still in play).
var ErrResultNotAvailable = errors.New("exchange: result not available")

// Config holds client credentials and endpoints.
type Config struct {
	AppKey       string
	Username     string
	Password     string
	CertFile     string
	KeyFile      string
	APIURL       string
	LoginURL     string
	Timeout      time.Duration
	CountryCodes []string
}

// Client talks to the Betfair exchange.
type Client struct {
	cfg        Config
	httpClient *http.Client

	mu           sync.Mutex
	sessionToken string
	greyhoundID  string // cached event type id
	requestID    int
	lastRequest  time.Time
}

// NewClient builds an exchange client. When certificate paths are configured
// the HTTP client presents them during login (Betfair cert login requirement).
func NewClient(cfg Config) (*Client, error) {
	if cfg.AppKey == "" || cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("exchange: missing credentials (BETFAIR_APP_KEY, BETFAIR_USERNAME, BETFAIR_PASSWORD)")
	}

	transport := &http.Transport{}
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("exchange: load client certificate: %w", err)
		}
		transport.TLSClientConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
	}, nil
}

// Login authenticates and stores the session token.
func (c *Client) Login(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.cfg.Username)
	form.Set("password", c.cfg.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.LoginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("X-Application", c.cfg.AppKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("exchange: login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("exchange: login HTTP %d", resp.StatusCode)
	}

	var out struct {
		LoginStatus  string `json:"loginStatus"`
		SessionToken string `json:"sessionToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("exchange: decode login response: %w", err)
	}
	if out.LoginStatus != "SUCCESS" {
		return fmt.Errorf("exchange: login failed: %s", out.LoginStatus)
	}

	c.mu.Lock()
	c.sessionToken = out.SessionToken
	c.mu.Unlock()

	log.Info().Msg("Logged in to Betfair")
	return nil
}

// Logout invalidates the session token. Best-effort.
func (c *Client) Logout(ctx context.Context) {
	c.mu.Lock()
	token := c.sessionToken
	c.sessionToken = ""
	c.mu.Unlock()

	if token == "" {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, logoutURL, nil)
	if err != nil {
		return
	}
	req.Header.Set("X-Application", c.cfg.AppKey)
	req.Header.Set("X-Authentication", token)

	if resp, err := c.httpClient.Do(req); err == nil {
		resp.Body.Close()
		log.Info().Msg("Logged out from Betfair")
	} else {
		log.Warn().Err(err).Msg("Logout failed")
	}
}

// rpcError is the JSON-RPC error envelope with the APING detail code.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		APINGException struct {
			ErrorCode string `json:"errorCode"`
		} `json:"APINGException"`
	} `json:"data"`
}

// call performs a JSON-RPC request, re-logging-in once on session expiry.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	return c.callInner(ctx, method, params, out, true)
}

func (c *Client) callInner(ctx context.Context, method string, params, out any, retryOnSessionError bool) error {
	c.mu.Lock()
	token := c.sessionToken
	c.requestID++
	id := c.requestID
	// Rate limit: keep a minimum interval between requests.
	if wait := minRequestInterval - time.Since(c.lastRequest); wait > 0 {
		time.Sleep(wait)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	if token == "" {
		return fmt.Errorf("exchange: not logged in")
	}

	payload := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      id,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("X-Application", c.cfg.AppKey)
	req.Header.Set("X-Authentication", token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("exchange: %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("exchange: %s: read response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("exchange: %s: HTTP %d: %s", method, resp.StatusCode, raw)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("exchange: %s: decode envelope: %w", method, err)
	}

	if envelope.Error != nil {
		if envelope.Error.Data.APINGException.ErrorCode == errCodeInvalidSession && retryOnSessionError {
			log.Warn().Msg("Session expired, re-logging in")
			if err := c.Login(ctx); err != nil {
				return fmt.Errorf("exchange: re-login: %w", err)
			}
			return c.callInner(ctx, method, params, out, false)
		}
		return fmt.Errorf("exchange: %s: API error %d: %s", method, envelope.Error.Code, envelope.Error.Message)
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("exchange: %s: decode result: %w", method, err)
		}
	}
	return nil
}

// greyhoundEventTypeID resolves and caches the greyhound racing event type id.
func (c *Client) greyhoundEventTypeID(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.greyhoundID
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var eventTypes []struct {
		EventType struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"eventType"`
	}
	if err := c.call(ctx, methodListEventTypes, map[string]any{"filter": map[string]any{}}, &eventTypes); err != nil {
		return "", err
	}

	for _, et := range eventTypes {
		if strings.Contains(et.EventType.Name, "Greyhound") {
			c.mu.Lock()
			c.greyhoundID = et.EventType.ID
			c.mu.Unlock()
			return et.EventType.ID, nil
		}
	}
	return "", fmt.Errorf("exchange: greyhound racing event type not found")
}

// marketCatalogueEntry mirrors the listMarketCatalogue response shape.
type marketCatalogueEntry struct {
	MarketID        string    `json:"marketId"`
	MarketName      string    `json:"marketName"`
	MarketStartTime time.Time `json:"marketStartTime"`
	Event           struct {
		Name        string `json:"name"`
		Venue       string `json:"venue"`
		CountryCode string `json:"countryCode"`
	} `json:"event"`
	Runners []struct {
		SelectionID int64             `json:"selectionId"`
		RunnerName  string            `json:"runnerName"`
		Metadata    map[string]string `json:"metadata"`
	} `json:"runners"`
}

// ListUpcoming returns upcoming greyhound WIN markets starting within the
// lookahead window, soonest first as the exchange returns them.
func (c *Client) ListUpcoming(ctx context.Context, lookahead time.Duration) ([]types.RaceInfo, error) {
	typeID, err := c.greyhoundEventTypeID(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	params := map[string]any{
		"filter": map[string]any{
			"eventTypeIds":    []string{typeID},
			"marketTypeCodes": []string{"WIN"},
			"marketCountries": c.cfg.CountryCodes,
			"marketStartTime": map[string]string{
				"from": now.Format(time.RFC3339),
				"to":   now.Add(lookahead).Format(time.RFC3339),
			},
		},
		"maxResults":       1000,
		"marketProjection": []string{"EVENT", "MARKET_START_TIME", "RUNNER_DESCRIPTION"},
	}

	var catalogue []marketCatalogueEntry
	if err := c.call(ctx, methodListMarketCatalog, params, &catalogue); err != nil {
		return nil, err
	}

	races := make([]types.RaceInfo, 0, len(catalogue))
	for _, m := range catalogue {
		races = append(races, types.RaceInfo{
			MarketID:    m.MarketID,
			MarketName:  m.MarketName,
			EventName:   m.Event.Name,
			Venue:       m.Event.Venue,
			CountryCode: m.Event.CountryCode,
			StartTime:   m.MarketStartTime,
			RunnerCount: len(m.Runners),
		})
	}

	log.Debug().Int("races", len(races)).Dur("lookahead", lookahead).Msg("Scanned upcoming races")
	return races, nil
}

// marketBookEntry mirrors the listMarketBook response shape.
type marketBookEntry struct {
	MarketID string `json:"marketId"`
	Status   string `json:"status"`
	Runners  []struct {
		SelectionID int64  `json:"selectionId"`
		Status      string `json:"status"`
		EX          struct {
			AvailableToBack []struct {
				Price float64 `json:"price"`
				Size  float64 `json:"size"`
			} `json:"availableToBack"`
		} `json:"ex"`
	} `json:"runners"`
}

func (c *Client) marketBook(ctx context.Context, marketID string, withPrices bool) (*marketBookEntry, error) {
	params := map[string]any{
		"marketIds": []string{marketID},
	}
	if withPrices {
		params["priceProjection"] = map[string]any{
			"priceData":  []string{"EX_BEST_OFFERS"},
			"virtualise": true,
		}
	}

	var books []marketBookEntry
	if err := c.call(ctx, methodListMarketBook, params, &books); err != nil {
		return nil, err
	}
	if len(books) == 0 {
		return nil, fmt.Errorf("exchange: empty market book for %s", marketID)
	}
	return &books[0], nil
}

// Hydrate fetches the full race: catalogue metadata merged with current best
// back prices for every runner. Grade, distance and trap numbers are parsed
// from market and runner names (see parse.go).
func (c *Client) Hydrate(ctx context.Context, marketID string) (*types.Race, error) {
	params := map[string]any{
		"filter":           map[string]any{"marketIds": []string{marketID}},
		"maxResults":       1,
		"marketProjection": []string{"EVENT", "MARKET_START_TIME", "RUNNER_DESCRIPTION", "RUNNER_METADATA"},
	}
	var catalogue []marketCatalogueEntry
	if err := c.call(ctx, methodListMarketCatalog, params, &catalogue); err != nil {
		return nil, err
	}
	if len(catalogue) == 0 {
		return nil, fmt.Errorf("exchange: market %s not found in catalogue", marketID)
	}
	m := catalogue[0]

	book, err := c.marketBook(ctx, marketID, true)
	if err != nil {
		return nil, err
	}

	race := &types.Race{
		MarketID:    m.MarketID,
		MarketName:  m.MarketName,
		EventName:   m.Event.Name,
		Venue:       m.Event.Venue,
		CountryCode: m.Event.CountryCode,
		StartTime:   m.MarketStartTime,
		Status:      book.Status,
		Distance:    ParseDistance(m.MarketName),
		Grade:       ParseGrade(m.MarketName, m.Event.Name),
		FetchedAt:   time.Now().UTC(),
	}

	bookRunners := make(map[int64]int, len(book.Runners))
	for i, r := range book.Runners {
		bookRunners[r.SelectionID] = i
	}

	for _, cr := range m.Runners {
		idx, ok := bookRunners[cr.SelectionID]
		if !ok {
			continue
		}
		br := book.Runners[idx]

		trap, name := ParseTrap(cr.RunnerName, cr.Metadata)

		runner := types.Runner{
			SelectionID: cr.SelectionID,
			Name:        name,
			Trap:        trap,
			Status:      br.Status,
			MarketID:    marketID,
		}
		if len(br.EX.AvailableToBack) > 0 {
			runner.Odds = decimal.NewFromFloat(br.EX.AvailableToBack[0].Price)
		}
		race.Runners = append(race.Runners, runner)
	}

	return race, nil
}

// Outcome returns the winning selection id for a settled market, or
// ErrResultNotAvailable when no runner is flagged as the winner yet.
func (c *Client) Outcome(ctx context.Context, marketID string) (int64, error) {
	book, err := c.marketBook(ctx, marketID, false)
	if err != nil {
		return 0, err
	}

	for _, r := range book.Runners {
		if r.Status == runnerStatusWinner {
			return r.SelectionID, nil
		}
	}
	return 0, fmt.Errorf("%w: market %s status %s", ErrResultNotAvailable, marketID, book.Status)
}

// PlacementReport is the exchange's answer to a placeOrders instruction.
type PlacementReport struct {
	Status string
	BetID  string
}

// PlaceBackOrder submits a single limit back order on a selection.
func (c *Client) PlaceBackOrder(ctx context.Context, marketID string, selectionID int64, odds, stake float64) (*PlacementReport, error) {
	params := map[string]any{
		"marketId": marketID,
		"instructions": []map[string]any{{
			"selectionId": selectionID,
			"handicap":    0,
			"side":        "BACK",
			"orderType":   "LIMIT",
			"limitOrder": map[string]any{
				"size":            stake,
				"price":           odds,
				"persistenceType": "LAPSE",
			},
		}},
	}

	var result struct {
		Status             string `json:"status"`
		InstructionReports []struct {
			Status string `json:"status"`
			BetID  string `json:"betId"`
		} `json:"instructionReports"`
	}
	if err := c.call(ctx, methodPlaceOrders, params, &result); err != nil {
		return nil, err
	}

	report := &PlacementReport{Status: result.Status}
	if len(result.InstructionReports) > 0 {
		report.BetID = result.InstructionReports[0].BetID
		if result.InstructionReports[0].Status != "" {
			report.Status = result.InstructionReports[0].Status
		}
	}
	return report, nil
}
