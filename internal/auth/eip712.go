package auth

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain is the EIP-712 domain separator inputs (spec.md §6: `{name:
// "MemePerp", version:"1", chainId, verifyingContract=SettlementAddress}`).
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DefaultDomain returns the domain spec.md §6 names for local/dev chains.
func DefaultDomain(chainID int64, verifyingContract common.Address) Domain {
	return Domain{
		Name:              "MemePerp",
		Version:           "1",
		ChainID:           big.NewInt(chainID),
		VerifyingContract: verifyingContract,
	}
}

// WireOrder is the EIP-712 typed-data payload a trader signs (spec.md §6's
// Order primary type): `{trader, token, isLong, size, leverage, price,
// deadline, nonce, orderType}`.
type WireOrder struct {
	Trader   common.Address
	Token    common.Address
	IsLong   bool
	Size     *big.Int
	Leverage *big.Int
	Price    *big.Int
	Deadline *big.Int
	Nonce    *big.Int
	// OrderType: 0 = market, 1 = limit (spec.md §6).
	OrderType uint8
}

// WireCancel is the EIP-712 cancel payload: signed message is
// "Cancel order {id}" per spec.md §6, hashed the same EIP-712 way as
// orders for domain-separated replay protection.
type WireCancel struct {
	OrderID string
	Trader  common.Address
	Nonce   *big.Int
}

// WireClose is the EIP-712 close-position payload: signed message is
// "Close pair {pairId} for {trader}" per spec.md §6.
type WireClose struct {
	PairID string
	Trader common.Address
}

// Hasher computes EIP-712 digests against a fixed domain.
type Hasher struct {
	domain Domain
}

// NewHasher builds a Hasher bound to domain.
func NewHasher(domain Domain) *Hasher {
	return &Hasher{domain: domain}
}

func (h *Hasher) typedDataDomain() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              h.domain.Name,
		Version:           h.domain.Version,
		ChainId:           (*math.HexOrDecimal256)(h.domain.ChainID),
		VerifyingContract: h.domain.VerifyingContract.Hex(),
	}
}

func finalDigest(typedData apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("hash message: %w", err)
	}
	raw := append([]byte("\x19\x01"), append(domainSeparator, messageHash...)...)
	digest := crypto.Keccak256Hash(raw)
	return digest.Bytes(), nil
}

// HashOrder computes the EIP-712 digest of a WireOrder.
func (h *Hasher) HashOrder(o *WireOrder) ([]byte, error) {
	isLong := "0"
	if o.IsLong {
		isLong = "1"
	}
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": []apitypes.Type{
				{Name: "trader", Type: "address"},
				{Name: "token", Type: "address"},
				{Name: "isLong", Type: "bool"},
				{Name: "size", Type: "uint256"},
				{Name: "leverage", Type: "uint256"},
				{Name: "price", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "orderType", Type: "uint8"},
			},
		},
		PrimaryType: "Order",
		Domain:      h.typedDataDomain(),
		Message: apitypes.TypedDataMessage{
			"trader":    o.Trader.Hex(),
			"token":     o.Token.Hex(),
			"isLong":    isLong,
			"size":      o.Size.String(),
			"leverage":  o.Leverage.String(),
			"price":     o.Price.String(),
			"deadline":  o.Deadline.String(),
			"nonce":     o.Nonce.String(),
			"orderType": fmt.Sprintf("%d", o.OrderType),
		},
	}
	return finalDigest(typedData)
}

// HashCancel computes the EIP-712 digest of a WireCancel.
func (h *Hasher) HashCancel(c *WireCancel) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Cancel": []apitypes.Type{
				{Name: "orderId", Type: "string"},
				{Name: "trader", Type: "address"},
				{Name: "nonce", Type: "uint256"},
			},
		},
		PrimaryType: "Cancel",
		Domain:      h.typedDataDomain(),
		Message: apitypes.TypedDataMessage{
			"orderId": c.OrderID,
			"trader":  c.Trader.Hex(),
			"nonce":   c.Nonce.String(),
		},
	}
	return finalDigest(typedData)
}

// HashClose computes the EIP-712 digest of a WireClose.
func (h *Hasher) HashClose(c *WireClose) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Close": []apitypes.Type{
				{Name: "pairId", Type: "string"},
				{Name: "trader", Type: "address"},
			},
		},
		PrimaryType: "Close",
		Domain:      h.typedDataDomain(),
		Message: apitypes.TypedDataMessage{
			"pairId": c.PairID,
			"trader": c.Trader.Hex(),
		},
	}
	return finalDigest(typedData)
}

// VerifyClose checks that signature was produced by c.Trader over c.
func (h *Hasher) VerifyClose(c *WireClose, signature []byte) (bool, error) {
	digest, err := h.HashClose(c)
	if err != nil {
		return false, err
	}
	recovered, err := RecoverAddress(digest, signature)
	if err != nil {
		return false, err
	}
	return recovered == c.Trader, nil
}

// VerifyOrder checks that signature was produced by o.Trader over o.
func (h *Hasher) VerifyOrder(o *WireOrder, signature []byte) (bool, error) {
	digest, err := h.HashOrder(o)
	if err != nil {
		return false, err
	}
	recovered, err := RecoverAddress(digest, signature)
	if err != nil {
		return false, err
	}
	return recovered == o.Trader, nil
}

// VerifyCancel checks that signature was produced by c.Trader over c.
func (h *Hasher) VerifyCancel(c *WireCancel, signature []byte) (bool, error) {
	digest, err := h.HashCancel(c)
	if err != nil {
		return false, err
	}
	recovered, err := RecoverAddress(digest, signature)
	if err != nil {
		return false, err
	}
	return recovered == c.Trader, nil
}
