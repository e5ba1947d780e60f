package feed

import (
	"log/slog"
	"testing"
	"time"

	"github.com/pairarb/pairarb/internal/domain"
)

func TestPoolTradeHandlerReachesSink(t *testing.T) {
	var got domain.TradePrint
	sink := func(print domain.TradePrint) { got = print }

	p := NewPool("ws://unused", nil, sink, slog.Default())

	h := p.tradeHandler()
	if h == nil {
		t.Fatalf("expected a handler when a sink is configured")
	}
	h(domain.TradePrint{TokenID: "tok-1", Price: 0.42, Size: 10, Timestamp: time.Now()})

	if got.TokenID != "tok-1" || got.Price != 0.42 {
		t.Fatalf("sink did not receive the print: %+v", got)
	}
}

func TestPoolTradeHandlerNilWithoutSink(t *testing.T) {
	p := NewPool("ws://unused", nil, nil, slog.Default())
	if p.tradeHandler() != nil {
		t.Fatalf("expected nil handler when no sink is configured")
	}
}
