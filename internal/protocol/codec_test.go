package protocol

import (
	"errors"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestTemplateOf(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want int32
	}{
		{"login request", &LoginRequest{User: "u"}, TemplateLoginRequest},
		{"heartbeat request", &HeartbeatRequest{}, TemplateHeartbeatRequest},
		{"subscribe", &MarketDataUpdateRequest{Symbol: "ESZ5"}, TemplateMarketDataUpdateRequest},
		{"last trade", &LastTrade{TradePrice: 5850.25}, TemplateLastTrade},
		{"bbo", &BestBidOffer{BidPrice: 5850}, TemplateBestBidOffer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TemplateOf(Encode(tt.msg))
			if err != nil {
				t.Fatalf("TemplateOf() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("TemplateOf() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDecode_LoginRequest(t *testing.T) {
	in := &LoginRequest{
		TemplateVersion: TemplateVersion,
		UserMsg:         []string{"hello"},
		User:            "trader",
		Password:        "secret",
		AppName:         "levelwatch",
		AppVersion:      "1.0.0",
		SystemName:      "Rithmic Test",
		InfraType:       InfraTickerPlant,
	}

	msg, err := Decode(Encode(in))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	out, ok := msg.(*LoginRequest)
	if !ok {
		t.Fatalf("Decode() type = %T, want *LoginRequest", msg)
	}
	if out.User != "trader" || out.Password != "secret" {
		t.Errorf("credentials = %q/%q, want trader/secret", out.User, out.Password)
	}
	if out.SystemName != "Rithmic Test" {
		t.Errorf("SystemName = %q, want %q", out.SystemName, "Rithmic Test")
	}
	if out.InfraType != InfraTickerPlant {
		t.Errorf("InfraType = %d, want %d", out.InfraType, InfraTickerPlant)
	}
	if out.TemplateVersion != "3.9" {
		t.Errorf("TemplateVersion = %q, want 3.9", out.TemplateVersion)
	}
}

func TestLoginResponse_OK(t *testing.T) {
	tests := []struct {
		rpCode []string
		want   bool
	}{
		{[]string{"0"}, true},
		{[]string{"13", "permission denied"}, false},
		{nil, false},
	}

	for _, tt := range tests {
		msg, err := Decode(Encode(&LoginResponse{RPCode: tt.rpCode}))
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		resp := msg.(*LoginResponse)
		if resp.OK() != tt.want {
			t.Errorf("OK() with rp_code %v = %v, want %v", tt.rpCode, resp.OK(), tt.want)
		}
	}
}

func TestDecode_LastTrade(t *testing.T) {
	in := &LastTrade{
		Symbol:     "ESZ5",
		Exchange:   "CME",
		TradePrice: 5850.25,
		TradeSize:  3,
		Volume:     120345,
		SSBOE:      1760000000,
		USecs:      250000,
	}

	msg, err := Decode(Encode(in))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	out := msg.(*LastTrade)

	if out.Symbol != "ESZ5" || out.Exchange != "CME" {
		t.Errorf("instrument = %s/%s, want ESZ5/CME", out.Symbol, out.Exchange)
	}
	if out.TradePrice != 5850.25 {
		t.Errorf("TradePrice = %v, want 5850.25", out.TradePrice)
	}
	if out.TradeSize != 3 {
		t.Errorf("TradeSize = %d, want 3", out.TradeSize)
	}
	want := time.Unix(1760000000, 250000000).UTC()
	if !out.Time().Equal(want) {
		t.Errorf("Time() = %v, want %v", out.Time(), want)
	}
}

func TestBestBidOffer_Presence(t *testing.T) {
	bidOnly := &BestBidOffer{PresenceBits: PresenceBid, BidPrice: 5849.75}
	if !bidOnly.HasBid() || bidOnly.HasAsk() {
		t.Errorf("bid-only frame: HasBid=%v HasAsk=%v, want true false", bidOnly.HasBid(), bidOnly.HasAsk())
	}

	both := &BestBidOffer{BidPrice: 5849.75, AskPrice: 5850.25}
	if !both.HasBid() || !both.HasAsk() {
		t.Errorf("two-sided frame: HasBid=%v HasAsk=%v, want true true", both.HasBid(), both.HasAsk())
	}
}

func TestDecode_SkipsUnknownFields(t *testing.T) {
	frame := Encode(&HeartbeatResponse{RPCode: []string{"0"}})
	frame = protowire.AppendTag(frame, 999999, protowire.BytesType)
	frame = protowire.AppendString(frame, "ignored")
	frame = protowire.AppendTag(frame, 999998, protowire.Fixed32Type)
	frame = protowire.AppendFixed32(frame, 7)

	msg, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	resp := msg.(*HeartbeatResponse)
	if len(resp.RPCode) != 1 || resp.RPCode[0] != "0" {
		t.Errorf("RPCode = %v, want [0]", resp.RPCode)
	}
}

func TestDecode_Errors(t *testing.T) {
	unknown := protowire.AppendTag(nil, fieldTemplateID, protowire.VarintType)
	unknown = protowire.AppendVarint(unknown, 4242)

	noTemplate := appendString(nil, fieldSymbol, "ESZ5")

	truncated := Encode(&LastTrade{Symbol: "ESZ5", TradePrice: 1})
	truncated = truncated[:len(truncated)-3]

	tests := []struct {
		name    string
		frame   []byte
		wantErr error
	}{
		{"unknown template", unknown, ErrUnknownTemplate},
		{"missing template", noTemplate, ErrMissingTemplateID},
		{"truncated", truncated, ErrMalformedFrame},
		{"empty", nil, ErrMissingTemplateID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.frame)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseInfraType(t *testing.T) {
	tests := []struct {
		in     string
		want   InfraType
		wantOK bool
	}{
		{"ticker_plant", InfraTickerPlant, true},
		{"ORDER_PLANT", InfraOrderPlant, true},
		{"history", InfraHistoryPlant, true},
		{"bogus", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseInfraType(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseInfraType(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
