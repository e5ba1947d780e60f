package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pairarb/pairarb/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexFloat unmarshals from JSON number or numeric string. Gamma sends
// liquidity and volume both ways depending on the endpoint.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(n)
	return nil
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg,omitempty"`
	OrderID     string `json:"orderID,omitempty"`
	Status      string `json:"status,omitempty"`
	TransactID  string `json:"transactID,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}

// ToDomainOrderResult converts an APIOrderResult to a domain.OrderResult.
func (r *APIOrderResult) ToDomainOrderResult() domain.OrderResult {
	result := domain.OrderResult{
		OrderID:   r.OrderID,
		Message:   r.ErrorMsg,
		Retryable: r.ShouldRetry,
	}

	switch r.Status {
	case "live", "open", "delayed":
		result.Status = domain.OrderStatusOpen
	case "matched":
		result.Status = domain.OrderStatusFilled
	default:
		if r.Success {
			result.Status = domain.OrderStatusPending
		} else {
			result.Status = domain.OrderStatusRejected
		}
	}

	return result
}

// APIOrderStatus represents an order as returned by GET /data/order/{id}.
type APIOrderStatus struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Market       string `json:"market"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
	Owner        string `json:"owner"`
	CreatedAt    string `json:"created_at"`
}

// ToDomainOrderResult converts an order status poll into a domain.OrderResult.
func (a *APIOrderStatus) ToDomainOrderResult() domain.OrderResult {
	result := domain.OrderResult{OrderID: a.ID}
	result.FilledSize, _ = strconv.ParseFloat(a.SizeMatched, 64)
	result.FilledPrice, _ = strconv.ParseFloat(a.Price, 64)

	orig, _ := strconv.ParseFloat(a.OriginalSize, 64)
	switch a.Status {
	case "matched", "filled":
		result.Status = domain.OrderStatusFilled
	case "cancelled", "canceled":
		if result.FilledSize > 0 {
			result.Status = domain.OrderStatusPartial
		} else {
			result.Status = domain.OrderStatusCancelled
		}
	case "live", "open":
		result.Status = domain.OrderStatusOpen
		if result.FilledSize > 0 && result.FilledSize < orig {
			result.Status = domain.OrderStatusPartial
		}
	default:
		result.Status = domain.OrderStatusPending
	}
	return result
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID            string    `json:"id"`
	Question      string    `json:"question"`
	ConditionID   string    `json:"conditionId"`
	Slug          string    `json:"slug"`
	Active        flexBool  `json:"active"`
	Closed        bool      `json:"closed"`
	Outcomes      string    `json:"outcomes"`       // JSON-encoded: e.g. "[\"Yes\",\"No\"]"
	ClobTokenIDs  string    `json:"clobTokenIds"`   // JSON-encoded: e.g. "[\"123\",\"456\"]"
	Liquidity     flexFloat `json:"liquidityNum"`
	Volume24h     flexFloat `json:"volume24hr"`
	NegRisk       bool      `json:"negRisk"`
	EndDateISO    string    `json:"endDateIso"`
	EndDate       string    `json:"endDate"`
	EnableBook    bool      `json:"enableOrderBook"`
	AcceptingOrds bool      `json:"acceptingOrders"`
	CreatedAt     string    `json:"createdAt"`
	UpdatedAt     string    `json:"updatedAt"`
}

// ToDomainMarket converts a Gamma APIMarket to a domain.Market. Token
// ordering follows the outcomes array: the YES token is the one whose
// outcome label matches "Yes", falling back to positional order.
func (m *APIMarket) ToDomainMarket() (domain.Market, bool) {
	dm := domain.Market{
		ID:           m.ID,
		Question:     m.Question,
		Slug:         m.Slug,
		ConditionID:  m.ConditionID,
		NegRisk:      m.NegRisk,
		LiquidityUSD: float64(m.Liquidity),
		Volume24hUSD: float64(m.Volume24h),
	}

	var tokenIDs []string
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &tokenIDs); err != nil || len(tokenIDs) != 2 {
		return domain.Market{}, false
	}
	var outcomes []string
	_ = json.Unmarshal([]byte(m.Outcomes), &outcomes)

	dm.YesTokenID, dm.NoTokenID = tokenIDs[0], tokenIDs[1]
	if len(outcomes) == 2 && strings.EqualFold(outcomes[1], "yes") {
		dm.YesTokenID, dm.NoTokenID = tokenIDs[1], tokenIDs[0]
	}

	if m.Closed {
		dm.Status = domain.MarketStatusClosed
	} else if bool(m.Active) {
		dm.Status = domain.MarketStatusActive
	} else {
		dm.Status = domain.MarketStatusResolved
	}

	end := m.EndDateISO
	if end == "" {
		end = m.EndDate
	}
	if t, err := time.Parse(time.RFC3339, end); err == nil {
		dm.EndDate = t
	}
	if t, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
		dm.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, m.UpdatedAt); err == nil {
		dm.UpdatedAt = t
	}

	return dm, true
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// WSMessage is the decoded form of one WebSocket frame from the CLOB market
// channel. Exactly one of the payload pointers is non-nil, keyed by EventType.
type WSMessage struct {
	EventType string `json:"event_type"` // "book", "price_change", "last_trade_price"

	Book           *BookMessage
	PriceChange    *PriceChangeMessage
	LastTradePrice *PriceMessage
}

// BookMessage represents a full orderbook snapshot delivered over WebSocket.
type BookMessage struct {
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp string         `json:"timestamp"` // exchange ms since epoch
	Hash      string         `json:"hash"`
}

// WSPriceLevel is a single bid/ask level in the WebSocket orderbook data.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// PriceChangeMessage represents an incremental orderbook price-level update.
type PriceChangeMessage struct {
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Side      string `json:"side"` // "BUY" or "SELL"
	Price     string `json:"price"`
	Size      string `json:"size"` // "0" means level removed
	BestBid   string `json:"best_bid"`
	BestAsk   string `json:"best_ask"`
	Timestamp string `json:"timestamp"`
}

// PriceMessage represents the most recent trade price for an asset.
type PriceMessage struct {
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Timestamp string `json:"timestamp"`
}

// WSCommand is the JSON payload sent to the WebSocket to subscribe.
type WSCommand struct {
	Type    string   `json:"type"` // "subscribe" or "unsubscribe"
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
}

// --------------------------------------------------------------------------
// Conversion helpers: WebSocket types -> domain types
// --------------------------------------------------------------------------

// BookToSideUpdate reduces a full book snapshot for one token to its top of
// book. Empty book sides map to zero quotes.
func BookToSideUpdate(b *BookMessage) domain.SideUpdate {
	u := domain.SideUpdate{TokenID: b.AssetID}

	for _, lvl := range b.Bids {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		if p > u.BestBid.Price {
			u.BestBid = domain.Quote{Price: p, Size: s}
		}
	}
	for _, lvl := range b.Asks {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		if u.BestAsk.Price == 0 || p < u.BestAsk.Price {
			u.BestAsk = domain.Quote{Price: p, Size: s}
		}
	}

	u.Seq, u.Timestamp = parseWSTimestamp(b.Timestamp)
	return u
}

// PriceChangeToSideUpdate converts an incremental update carrying best bid
// and ask into a SideUpdate. Returns false when the message lacks top-of-book
// fields; the caller should ignore it and wait for the next book snapshot.
func PriceChangeToSideUpdate(p *PriceChangeMessage) (domain.SideUpdate, bool) {
	if p.BestBid == "" && p.BestAsk == "" {
		return domain.SideUpdate{}, false
	}
	u := domain.SideUpdate{TokenID: p.AssetID}
	if bid, err := strconv.ParseFloat(p.BestBid, 64); err == nil {
		u.BestBid = domain.Quote{Price: bid}
	}
	if ask, err := strconv.ParseFloat(p.BestAsk, 64); err == nil {
		u.BestAsk = domain.Quote{Price: ask}
	}

	// When the changed level is itself the new top, the frame tells us the
	// resting size there; otherwise size stays zero and the hub carries the
	// last known value forward.
	if size, err := strconv.ParseFloat(p.Size, 64); err == nil && size > 0 {
		switch {
		case p.Side == "SELL" && p.Price == p.BestAsk:
			u.BestAsk.Size = size
		case p.Side == "BUY" && p.Price == p.BestBid:
			u.BestBid.Size = size
		}
	}

	u.Seq, u.Timestamp = parseWSTimestamp(p.Timestamp)
	return u, true
}

// parseWSTimestamp decodes the exchange millisecond timestamp, doubling as
// the per-token sequence number. Frames with unparseable timestamps get the
// local clock so they are never silently dropped as stale.
func parseWSTimestamp(ts string) (int64, time.Time) {
	if ms, err := strconv.ParseInt(ts, 10, 64); err == nil && ms > 0 {
		return ms, time.UnixMilli(ms)
	}
	now := time.Now()
	return now.UnixMilli(), now
}
