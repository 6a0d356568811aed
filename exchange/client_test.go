package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		AppKey:       "test-app-key",
		Username:     "user",
		Password:     "pass",
		APIURL:       srv.URL + "/rpc",
		LoginURL:     srv.URL + "/login",
		Timeout:      5 * time.Second,
		CountryCodes: []string{"GB"},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func writeRPCResult(w http.ResponseWriter, result any) {
	json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "result": result, "id": 1})
}

func TestLoginStoresSessionToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/login" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Application"); got != "test-app-key" {
			t.Errorf("X-Application = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"loginStatus": "SUCCESS", "sessionToken": "tok-123"})
	})

	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if c.sessionToken != "tok-123" {
		t.Errorf("sessionToken = %q, want tok-123", c.sessionToken)
	}
}

func TestLoginFailureStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"loginStatus": "INVALID_USERNAME_OR_PASSWORD"})
	})

	if err := c.Login(context.Background()); err == nil {
		t.Fatal("expected login error")
	}
}

func TestCallReloginOnExpiredSession(t *testing.T) {
	var rpcCalls, loginCalls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			loginCalls++
			json.NewEncoder(w).Encode(map[string]string{"loginStatus": "SUCCESS", "sessionToken": "fresh"})
		case "/rpc":
			rpcCalls++
			if rpcCalls == 1 {
				json.NewEncoder(w).Encode(map[string]any{
					"jsonrpc": "2.0",
					"error": map[string]any{
						"code":    -32099,
						"message": "ANGX-0003",
						"data":    map[string]any{"APINGException": map[string]string{"errorCode": "INVALID_SESSION_INFORMATION"}},
					},
					"id": 1,
				})
				return
			}
			if got := r.Header.Get("X-Authentication"); got != "fresh" {
				t.Errorf("retry used token %q, want fresh", got)
			}
			writeRPCResult(w, []any{})
		}
	})
	c.sessionToken = "stale"

	var out []struct{}
	if err := c.call(context.Background(), methodListMarketBook, map[string]any{}, &out); err != nil {
		t.Fatalf("call: %v", err)
	}
	if loginCalls != 1 || rpcCalls != 2 {
		t.Errorf("loginCalls=%d rpcCalls=%d, want 1 and 2", loginCalls, rpcCalls)
	}
}

func TestListUpcoming(t *testing.T) {
	start := time.Now().UTC().Add(20 * time.Minute).Truncate(time.Second)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		switch req.Method {
		case methodListEventTypes:
			writeRPCResult(w, []map[string]any{
				{"eventType": map[string]any{"id": "7", "name": "Horse Racing"}},
				{"eventType": map[string]any{"id": "4339", "name": "Greyhound Racing"}},
			})
		case methodListMarketCatalog:
			writeRPCResult(w, []map[string]any{{
				"marketId":        "1.234",
				"marketName":      "A5 480m",
				"marketStartTime": start.Format(time.RFC3339),
				"event":           map[string]any{"name": "Romford", "venue": "Romford", "countryCode": "GB"},
				"runners": []map[string]any{
					{"selectionId": 101, "runnerName": "1. Swift Hostage"},
					{"selectionId": 102, "runnerName": "2. Droopys Clue"},
				},
			}})
		default:
			t.Errorf("unexpected method %s", req.Method)
		}
	})
	c.sessionToken = "tok"

	races, err := c.ListUpcoming(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("ListUpcoming: %v", err)
	}
	if len(races) != 1 {
		t.Fatalf("got %d races, want 1", len(races))
	}
	r := races[0]
	if r.MarketID != "1.234" || r.Venue != "Romford" || r.RunnerCount != 2 {
		t.Errorf("unexpected race: %+v", r)
	}
	if !r.StartTime.Equal(start) {
		t.Errorf("StartTime = %v, want %v", r.StartTime, start)
	}
}

func TestOutcomeWinner(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeRPCResult(w, []map[string]any{{
			"marketId": "1.234",
			"status":   "CLOSED",
			"runners": []map[string]any{
				{"selectionId": 101, "status": "LOSER"},
				{"selectionId": 102, "status": "WINNER"},
			},
		}})
	})
	c.sessionToken = "tok"

	winner, err := c.Outcome(context.Background(), "1.234")
	if err != nil {
		t.Fatalf("Outcome: %v", err)
	}
	if winner != 102 {
		t.Errorf("winner = %d, want 102", winner)
	}
}

func TestOutcomeNotAvailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeRPCResult(w, []map[string]any{{
			"marketId": "1.234",
			"status":   "OPEN",
			"runners": []map[string]any{
				{"selectionId": 101, "status": "ACTIVE"},
				{"selectionId": 102, "status": "ACTIVE"},
			},
		}})
	})
	c.sessionToken = "tok"

	_, err := c.Outcome(context.Background(), "1.234")
	if !errors.Is(err, ErrResultNotAvailable) {
		t.Fatalf("err = %v, want ErrResultNotAvailable", err)
	}
}

func TestCallRequiresLogin(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected before login")
	})

	var out []struct{}
	if err := c.call(context.Background(), methodListMarketBook, nil, &out); err == nil {
		t.Fatal("expected error when not logged in")
	}
}
