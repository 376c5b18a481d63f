package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/0oeaaeo/discord-stocks-bot/internal/observ"
	"github.com/0oeaaeo/discord-stocks-bot/internal/trading"
)

func newBareServer() *Server {
	return NewServer(nil, nil, nil, trading.NewOptOutDesk(nil, 0), observ.New(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestIdentityHeaderRequired(t *testing.T) {
	srv := httptest.NewServer(newBareServer().Router())
	defer srv.Close()

	cases := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"garbage", "not-a-number"},
		{"zero", "0"},
		{"negative", "-3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/portfolio", nil)
			if tc.header != "" {
				req.Header.Set(userHeader, tc.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestTradeRejectsBadBody(t *testing.T) {
	srv := httptest.NewServer(newBareServer().Router())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/trades/buy",
		strings.NewReader("{not json"))
	req.Header.Set(userHeader, "42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestOrderDirectionValidated(t *testing.T) {
	srv := httptest.NewServer(newBareServer().Router())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/orders",
		strings.NewReader(`{"security_id":1,"shares":1,"target_price":100,"direction":"sideways"}`))
	req.Header.Set(userHeader, "42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
