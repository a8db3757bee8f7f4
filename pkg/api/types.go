package api

// REST wire types for spec.md §6's external interface. The old
// consensus-era types (ChainStatus, MarketInfo tied to perp.App, flat
// channel-name WSSubscribeRequest) are gone; this is the topic-addressed,
// decimal-formatted surface SPEC_FULL.md's internal/query and
// internal/broadcast actually produce.

// SubmitOrderRequest is the JSON body of POST /api/order/submit: the
// EIP-712 typed-data fields plus the trader's signature over them
// (spec.md §6). Integer fields travel as decimal strings so large
// big.Int values (deadline, nonce) never lose precision in JSON.
type SubmitOrderRequest struct {
	ClientID   string `json:"client_id"`
	Trader     string `json:"trader"`
	Token      string `json:"token"`
	IsLong     bool   `json:"is_long"`
	Size       string `json:"size"`
	Leverage   string `json:"leverage"`
	Price      string `json:"price"`
	Deadline   string `json:"deadline"`
	Nonce      string `json:"nonce"`
	OrderType  uint8  `json:"order_type"`
	TIF        string `json:"tif"`
	ReduceOnly bool   `json:"reduce_only"`
	Signature  string `json:"signature"`
}

// SubmitOrderResponse is returned on successful admission and matching.
type SubmitOrderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Filled  string `json:"filled"`
}

// CancelOrderRequest is the JSON body of POST /api/order/{id}/cancel
// (spec.md §6's `{trader, signature}`, plus the market token the order
// lives on so the request can be routed to its owning worker without a
// cross-market order index).
type CancelOrderRequest struct {
	Trader    string `json:"trader"`
	Token     string `json:"token"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

// CloseRequest is the JSON body of POST /api/position/{pairId}/close
// (spec.md §6): the trader's signature over "Close pair {pairId} for
// {trader}".
type CloseRequest struct {
	Trader    string `json:"trader"`
	Signature string `json:"signature"`
}

// CloseResponse reports the settlement outcome of a close request.
type CloseResponse struct {
	PairID      string `json:"pair_id"`
	ClosedSize  string `json:"closed_size"`
	RealizedPnL string `json:"realized_pnl"`
	Status      string `json:"status"`
}

// ErrorResponse is returned for every non-2xx response.
type ErrorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
}

// SubscribeRequest is the client->server WS control message (spec.md
// §4.J / §6): `{type:"subscribe"|"unsubscribe", channel, token?}`.
type SubscribeRequest struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Token   string `json:"token,omitempty"`
}
