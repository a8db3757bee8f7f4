package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/memeperp/engine/internal/auth"
	"github.com/memeperp/engine/internal/broadcast"
	"github.com/memeperp/engine/internal/clock"
	"github.com/memeperp/engine/internal/engine"
	"github.com/memeperp/engine/internal/journal"
	"github.com/memeperp/engine/internal/ledger"
	"github.com/memeperp/engine/internal/market"
	"github.com/memeperp/engine/internal/oracle"
	"github.com/memeperp/engine/internal/pair"
	"github.com/memeperp/engine/internal/types"
)

// marketToken is an all-digit hex address so RecoverAddress-style
// HexToAddress(s).Hex() round-trips byte-identically without EIP-55
// checksum casing getting in the way of the registry lookup by symbol.
const marketToken = "0x1234567890123456789012345678901234567890"

type staticSource struct{ price types.Ticks }

func (s staticSource) SpotPrice(market string) (types.Ticks, error) { return s.price, nil }

type harness struct {
	ts       *httptest.Server
	authr    *auth.Authenticator
	hasher   *auth.Hasher
	accounts *ledger.Manager
	sup      *engine.Supervisor
}

func setupHarness(t *testing.T) *harness {
	t.Helper()

	mkt, err := market.New(marketToken, "BTC", "USD", market.DefaultPerp(1, 1, 50))
	if err != nil {
		t.Fatalf("market.New: %v", err)
	}
	registry := market.NewRegistry()
	if err := registry.Register(mkt); err != nil {
		t.Fatalf("Register: %v", err)
	}

	accounts := ledger.NewManager(ledger.NewMemStore())
	pairs := pair.NewLedger(accounts, pair.NewMemStore())
	hub := broadcast.New(zap.NewNop())
	clk := clock.Real{}

	tracker := oracle.NewTracker(staticSource{price: 100}, clk, time.Minute)

	domain := auth.DefaultDomain(1337, common.Address{})
	hasher := auth.NewHasher(domain)

	sup := engine.NewSupervisor(engine.Deps{Accounts: accounts, Markets: registry, Pairs: pairs, Hub: hub})
	authr := auth.New(hasher, accounts, registry, clk, sup)
	sup.SetAuthenticator(authr)

	adlFeeBps := func(string) int64 { return mkt.TakerFeeBps }
	sup.Spawn(mkt, tracker, clk, journal.NewNopWriter(), zap.NewNop(), common.HexToAddress("0xfee"), adlFeeBps)

	srv := NewServer(Deps{
		Supervisor:    sup,
		Authenticator: authr,
		Accounts:      accounts,
		Pairs:         pairs,
		Markets:       registry,
		Hub:           hub,
		Logger:        zap.NewNop(),
	})

	ts := httptest.NewServer(srv.router)
	t.Cleanup(func() {
		ts.Close()
		sup.StopAll()
	})

	return &harness{ts: ts, authr: authr, hasher: hasher, accounts: accounts, sup: sup}
}

func (h *harness) signOrder(t *testing.T, signer *auth.Signer, isLong bool, size, price int64, nonce uint64) SubmitOrderRequest {
	t.Helper()
	order := auth.WireOrder{
		Trader:    signer.Address(),
		Token:     common.HexToAddress(marketToken),
		IsLong:    isLong,
		Size:      big.NewInt(size),
		Leverage:  big.NewInt(5),
		Price:     big.NewInt(price),
		Deadline:  big.NewInt(time.Now().Unix() + 3600),
		Nonce:     new(big.Int).SetUint64(nonce),
		OrderType: 1,
	}
	digest, err := h.hasher.HashOrder(&order)
	if err != nil {
		t.Fatalf("HashOrder: %v", err)
	}
	sig, err := signer.Sign(digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return SubmitOrderRequest{
		Trader:    signer.Address().Hex(),
		Token:     marketToken,
		IsLong:    isLong,
		Size:      fmt.Sprintf("%d", size),
		Leverage:  "5",
		Price:     fmt.Sprintf("%d", price),
		Deadline:  fmt.Sprintf("%d", order.Deadline.Int64()),
		Nonce:     fmt.Sprintf("%d", nonce),
		OrderType: 1,
		TIF:       "GTC",
		Signature: common.Bytes2Hex(sig),
	}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	h := setupHarness(t)
	resp, err := http.Get(h.ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestSubmitOrderMatchesAndSettles(t *testing.T) {
	h := setupHarness(t)

	maker, err := auth.GenerateSigner()
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}
	taker, err := auth.GenerateSigner()
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}
	_ = h.accounts.Deposit(maker.Address(), 1_000_000)
	_ = h.accounts.Deposit(taker.Address(), 1_000_000)

	makerReq := h.signOrder(t, maker, false, 100, 1000, 0) // resting short limit, notional 100,000
	resp := postJSON(t, h.ts.URL+"/api/order/submit", makerReq)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("maker submit: expected 200, got %d", resp.StatusCode)
	}

	takerReq := h.signOrder(t, taker, true, 100, 1000, 0) // aggressive long limit, crosses
	resp2 := postJSON(t, h.ts.URL+"/api/order/submit", takerReq)
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("taker submit: expected 200, got %d", resp2.StatusCode)
	}
	var out SubmitOrderResponse
	if err := json.NewDecoder(resp2.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Filled != "100" {
		t.Fatalf("expected full fill of 100, got %s", out.Filled)
	}

	balResp, err := http.Get(h.ts.URL + "/api/user/" + taker.Address().Hex() + "/balance")
	if err != nil {
		t.Fatalf("GET balance: %v", err)
	}
	defer balResp.Body.Close()
	if balResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", balResp.StatusCode)
	}
}

func TestSubmitOrderBadSignatureRejected(t *testing.T) {
	h := setupHarness(t)
	signer, err := auth.GenerateSigner()
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}
	_ = h.accounts.Deposit(signer.Address(), 1_000_000)

	req := h.signOrder(t, signer, true, 10, 100, 0)
	req.Signature = "0xdeadbeef"

	resp := postJSON(t, h.ts.URL+"/api/order/submit", req)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", resp.StatusCode)
	}
}

func TestGetBalanceUnknownAddressFormat(t *testing.T) {
	h := setupHarness(t)
	resp, err := http.Get(h.ts.URL + "/api/user/not-an-address/balance")
	if err != nil {
		t.Fatalf("GET balance: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed address, got %d", resp.StatusCode)
	}
}
