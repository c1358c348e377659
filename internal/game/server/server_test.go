package server

import (
	"testing"

	"shardworld/internal/protocol"
	"shardworld/internal/store/durable"
)

func TestChannelNames(t *testing.T) {
	if got := chunkChannel("demo", "3:-2"); got != "room:demo:chunk:3:-2" {
		t.Fatalf("chunk channel = %q", got)
	}
	if got := globalChannel("demo"); got != "room:demo:global" {
		t.Fatalf("global channel = %q", got)
	}
	if got := userChannel("u1"); got != "user:u1" {
		t.Fatalf("user channel = %q", got)
	}
}

func TestChunkFromChannel(t *testing.T) {
	if got := chunkFromChannel("room:demo:chunk:3:-2"); got != "3:-2" {
		t.Fatalf("chunk = %q", got)
	}
}

func TestParsePOIChannel(t *testing.T) {
	seed, poiID, ok := parsePOIChannel("room:demo:poi:crypt")
	if !ok || seed != "demo" || poiID != "crypt" {
		t.Fatalf("parse = %q %q %v", seed, poiID, ok)
	}
	if _, _, ok := parsePOIChannel("room:demo:chunk:0:0"); ok {
		t.Fatalf("chunk channel must not parse as poi")
	}
	if _, _, ok := parsePOIChannel("user:u1"); ok {
		t.Fatalf("user channel must not parse as poi")
	}
}

func TestNormalizeChatChannel(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"", "local", true},
		{"local", "local", true},
		{" GLOBAL ", "global", true},
		{"guild", "", false},
	}
	for _, c := range cases {
		got, ok := normalizeChatChannel(c.in)
		if got != c.want || ok != c.ok {
			t.Fatalf("normalize(%q) = %q %v", c.in, got, ok)
		}
	}
}

func TestTradeUpdateRendering(t *testing.T) {
	row := &durable.TradeRow{
		TradeID:         "T1",
		SellerID:        "alice",
		BuyerID:         "bob",
		Status:          durable.TradeAccepted,
		SellerOffer:     []protocol.ItemPair{{Item: "sword", Qty: 1}},
		SellerConfirmed: true,
	}
	msg := tradeUpdate(row)
	if msg.Type != protocol.TypeTradeUpdate || msg.Status != "accepted" {
		t.Fatalf("unexpected update: %+v", msg)
	}
	if !msg.Confirms.Seller || msg.Confirms.Buyer {
		t.Fatalf("confirm flags wrong: %+v", msg.Confirms)
	}
	if len(msg.Offers.Seller) != 1 || msg.Offers.Seller[0].Item != "sword" {
		t.Fatalf("offers wrong: %+v", msg.Offers)
	}
}
