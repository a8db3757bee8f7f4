package auth

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memeperp/engine/internal/ledger"
	"github.com/memeperp/engine/internal/market"
	"github.com/memeperp/engine/internal/types"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time                         { return f.t }
func (f fixedClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type fixedQuoter struct{ price types.Ticks }

func (f fixedQuoter) BestQuote(market string, side types.Side) (types.Ticks, bool) {
	return f.price, true
}

func setupAuth(t *testing.T) (*Authenticator, *ledger.Manager, *market.Market, *Signer) {
	t.Helper()
	lm := ledger.NewManager(ledger.NewMemStore())
	registry := market.NewRegistry()
	mkt, err := market.New("BTC-USD", "BTC", "USD", market.DefaultPerp(1, 100, 50))
	if err != nil {
		t.Fatalf("market.New: %v", err)
	}
	if err := registry.Register(mkt); err != nil {
		t.Fatalf("Register: %v", err)
	}
	signer, err := GenerateSigner()
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}
	_ = lm.Deposit(signer.Address(), 1_000_000)

	hasher := NewHasher(DefaultDomain(1337, common.Address{}))
	clk := fixedClock{t: time.Unix(1_700_000_000, 0)}
	a := New(hasher, lm, registry, clk, fixedQuoter{price: 100})
	return a, lm, mkt, signer
}

func buildSignedOrder(t *testing.T, signer *Signer, hasher *Hasher, symbol string, nonce uint64, deadline int64) Request {
	t.Helper()
	token := common.HexToAddress(symbol)
	order := WireOrder{
		Trader:    signer.Address(),
		Token:     token,
		IsLong:    true,
		Size:      big.NewInt(100),
		Leverage:  big.NewInt(5),
		Price:     big.NewInt(100),
		Deadline:  big.NewInt(deadline),
		Nonce:     new(big.Int).SetUint64(nonce),
		OrderType: 1,
	}
	digest, err := hasher.HashOrder(&order)
	if err != nil {
		t.Fatalf("HashOrder: %v", err)
	}
	sig, err := signer.Sign(digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return Request{ID: "ord-1", Order: order, Signature: sig, TIF: types.TIFGTC}
}

func TestAuthenticateHappyPath(t *testing.T) {
	a, _, mkt, signer := setupAuth(t)
	hasher := NewHasher(DefaultDomain(1337, common.Address{}))
	req := buildSignedOrder(t, signer, hasher, mkt.Symbol, 0, 1_900_000_000)

	admitted, err := a.Authenticate(req)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if admitted.Trader != signer.Address() || admitted.Side != types.SideLong {
		t.Fatalf("unexpected admitted order: %+v", admitted)
	}
	if admitted.ReservedOrderLock <= 0 {
		t.Fatal("expected nonzero margin reservation")
	}
}

func TestAuthenticateBadSignatureRejected(t *testing.T) {
	a, _, mkt, signer := setupAuth(t)
	hasher := NewHasher(DefaultDomain(1337, common.Address{}))
	req := buildSignedOrder(t, signer, hasher, mkt.Symbol, 0, 1_900_000_000)
	req.Signature[0] ^= 0xFF // corrupt

	if _, err := a.Authenticate(req); err == nil {
		t.Fatal("expected signature verification failure")
	}
}

func TestAuthenticateBadNonceRejected(t *testing.T) {
	a, _, mkt, signer := setupAuth(t)
	hasher := NewHasher(DefaultDomain(1337, common.Address{}))
	req := buildSignedOrder(t, signer, hasher, mkt.Symbol, 5, 1_900_000_000) // expected 0

	if _, err := a.Authenticate(req); err == nil {
		t.Fatal("expected bad nonce rejection")
	}
}

func TestAuthenticateExpiredRejected(t *testing.T) {
	a, _, mkt, signer := setupAuth(t)
	hasher := NewHasher(DefaultDomain(1337, common.Address{}))
	req := buildSignedOrder(t, signer, hasher, mkt.Symbol, 0, 1_600_000_000) // in the past

	if _, err := a.Authenticate(req); err == nil {
		t.Fatal("expected expiry rejection")
	}
}

func TestAuthenticateReplaySecondSubmissionFails(t *testing.T) {
	a, _, mkt, signer := setupAuth(t)
	hasher := NewHasher(DefaultDomain(1337, common.Address{}))
	req := buildSignedOrder(t, signer, hasher, mkt.Symbol, 0, 1_900_000_000)

	if _, err := a.Authenticate(req); err != nil {
		t.Fatalf("first submission should succeed: %v", err)
	}
	if _, err := a.Authenticate(req); err == nil {
		t.Fatal("replaying the same nonce must fail with BadNonce")
	}
}

func TestAuthenticateCancelHappyPath(t *testing.T) {
	a, _, _, signer := setupAuth(t)
	hasher := NewHasher(DefaultDomain(1337, common.Address{}))

	c := &WireCancel{OrderID: "ord-1", Trader: signer.Address(), Nonce: big.NewInt(1)}
	digest, err := hasher.HashCancel(c)
	if err != nil {
		t.Fatalf("HashCancel: %v", err)
	}
	sig, err := signer.Sign(digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if err := a.AuthenticateCancel("ord-1", signer.Address(), big.NewInt(1), sig); err != nil {
		t.Fatalf("AuthenticateCancel: %v", err)
	}
}

func TestAuthenticateCancelBadSignatureRejected(t *testing.T) {
	a, _, _, signer := setupAuth(t)
	hasher := NewHasher(DefaultDomain(1337, common.Address{}))

	c := &WireCancel{OrderID: "ord-1", Trader: signer.Address(), Nonce: big.NewInt(1)}
	digest, err := hasher.HashCancel(c)
	if err != nil {
		t.Fatalf("HashCancel: %v", err)
	}
	sig, err := signer.Sign(digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	sig[0] ^= 0xFF

	if err := a.AuthenticateCancel("ord-1", signer.Address(), big.NewInt(1), sig); err == nil {
		t.Fatal("expected signature verification failure")
	}
}

func TestAuthenticateCancelMismatchedOrderRejected(t *testing.T) {
	a, _, _, signer := setupAuth(t)
	hasher := NewHasher(DefaultDomain(1337, common.Address{}))

	c := &WireCancel{OrderID: "ord-1", Trader: signer.Address(), Nonce: big.NewInt(1)}
	digest, err := hasher.HashCancel(c)
	if err != nil {
		t.Fatalf("HashCancel: %v", err)
	}
	sig, err := signer.Sign(digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if err := a.AuthenticateCancel("ord-2", signer.Address(), big.NewInt(1), sig); err == nil {
		t.Fatal("expected rejection when order id doesn't match the signed payload")
	}
}

func TestAuthenticateCloseHappyPath(t *testing.T) {
	a, _, _, signer := setupAuth(t)
	hasher := NewHasher(DefaultDomain(1337, common.Address{}))

	c := &WireClose{PairID: "pair-1", Trader: signer.Address()}
	digest, err := hasher.HashClose(c)
	if err != nil {
		t.Fatalf("HashClose: %v", err)
	}
	sig, err := signer.Sign(digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if err := a.AuthenticateClose("pair-1", signer.Address(), sig); err != nil {
		t.Fatalf("AuthenticateClose: %v", err)
	}
}

func TestAuthenticateCloseWrongTraderRejected(t *testing.T) {
	a, _, _, signer := setupAuth(t)
	hasher := NewHasher(DefaultDomain(1337, common.Address{}))

	c := &WireClose{PairID: "pair-1", Trader: signer.Address()}
	digest, err := hasher.HashClose(c)
	if err != nil {
		t.Fatalf("HashClose: %v", err)
	}
	sig, err := signer.Sign(digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	other, err := GenerateSigner()
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}
	if err := a.AuthenticateClose("pair-1", other.Address(), sig); err == nil {
		t.Fatal("expected rejection when the recovered signer doesn't match the claimed trader")
	}
}
