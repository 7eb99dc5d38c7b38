package protocol

import (
	"strings"
	"time"
)

// Template IDs.
const (
	TemplateLoginRequest             int32 = 10
	TemplateLoginResponse            int32 = 11
	TemplateHeartbeatRequest         int32 = 18
	TemplateHeartbeatResponse        int32 = 19
	TemplateMarketDataUpdateRequest  int32 = 100
	TemplateMarketDataUpdateResponse int32 = 101
	TemplateLastTrade                int32 = 150
	TemplateBestBidOffer             int32 = 151
)

// TemplateVersion is the protocol revision sent with login.
const TemplateVersion = "3.9"

// InfraType selects which plant the login is for.
type InfraType int32

const (
	InfraTickerPlant     InfraType = 1
	InfraOrderPlant      InfraType = 2
	InfraHistoryPlant    InfraType = 3
	InfraPnLPlant        InfraType = 4
	InfraRepositoryPlant InfraType = 5
)

// ParseInfraType maps a config value such as "ticker_plant" to an InfraType.
func ParseInfraType(s string) (InfraType, bool) {
	switch strings.ToLower(s) {
	case "ticker_plant", "ticker":
		return InfraTickerPlant, true
	case "order_plant", "order":
		return InfraOrderPlant, true
	case "history_plant", "history":
		return InfraHistoryPlant, true
	case "pnl_plant", "pnl":
		return InfraPnLPlant, true
	case "repository_plant", "repository":
		return InfraRepositoryPlant, true
	default:
		return 0, false
	}
}

// Request is the market data update action.
type Request int32

const (
	RequestSubscribe   Request = 1
	RequestUnsubscribe Request = 2
)

// UpdateBits selects which market data streams a subscription carries.
type UpdateBits uint32

const (
	UpdateLastTrade UpdateBits = 1
	UpdateBBO       UpdateBits = 2
)

// Presence bits on BestBidOffer.
const (
	PresenceBid uint32 = 1
	PresenceAsk uint32 = 2
)

// Message is any frame in the catalogue.
type Message interface {
	TemplateID() int32
	appendFields(b []byte) []byte
	setField(f field)
}

// responseOK reports whether an rp_code list signals success.
func responseOK(rpCode []string) bool {
	return len(rpCode) > 0 && rpCode[0] == "0"
}

func rpReason(rpCode []string) string {
	if len(rpCode) == 0 {
		return "no response code"
	}
	return strings.Join(rpCode, " ")
}

// sourceTime converts seconds-since-boe plus microseconds to a timestamp.
func sourceTime(ssboe, usecs int32) time.Time {
	if ssboe == 0 {
		return time.Time{}
	}
	return time.Unix(int64(ssboe), int64(usecs)*int64(time.Microsecond)).UTC()
}

// -----------------------------------------------------------------------------
// Login
// -----------------------------------------------------------------------------

// LoginRequest authenticates a session against one plant.
type LoginRequest struct {
	TemplateVersion string
	UserMsg         []string
	User            string
	Password        string
	AppName         string
	AppVersion      string
	SystemName      string
	InfraType       InfraType
}

func (*LoginRequest) TemplateID() int32 { return TemplateLoginRequest }

func (m *LoginRequest) appendFields(b []byte) []byte {
	b = appendString(b, fieldTemplateVersion, m.TemplateVersion)
	b = appendStrings(b, fieldUserMsg, m.UserMsg)
	b = appendString(b, fieldUser, m.User)
	b = appendString(b, fieldPassword, m.Password)
	b = appendString(b, fieldAppName, m.AppName)
	b = appendString(b, fieldAppVersion, m.AppVersion)
	b = appendString(b, fieldSystemName, m.SystemName)
	return appendInt32(b, fieldInfraType, int32(m.InfraType))
}

func (m *LoginRequest) setField(f field) {
	switch f.num {
	case fieldTemplateVersion:
		m.TemplateVersion = f.asString()
	case fieldUserMsg:
		m.UserMsg = append(m.UserMsg, f.asString())
	case fieldUser:
		m.User = f.asString()
	case fieldPassword:
		m.Password = f.asString()
	case fieldAppName:
		m.AppName = f.asString()
	case fieldAppVersion:
		m.AppVersion = f.asString()
	case fieldSystemName:
		m.SystemName = f.asString()
	case fieldInfraType:
		m.InfraType = InfraType(f.asInt32())
	}
}

// LoginResponse acknowledges or rejects a LoginRequest.
type LoginResponse struct {
	TemplateVersion   string
	UserMsg           []string
	RPCode            []string
	FCMID             string
	IBID              string
	CountryCode       string
	UniqueUserID      string
	HeartbeatInterval float64 // Seconds, as advertised by the plant
}

func (*LoginResponse) TemplateID() int32 { return TemplateLoginResponse }

// OK reports whether the login succeeded.
func (m *LoginResponse) OK() bool { return responseOK(m.RPCode) }

// Reason returns the response code text for logging.
func (m *LoginResponse) Reason() string { return rpReason(m.RPCode) }

func (m *LoginResponse) appendFields(b []byte) []byte {
	b = appendString(b, fieldTemplateVersion, m.TemplateVersion)
	b = appendStrings(b, fieldUserMsg, m.UserMsg)
	b = appendStrings(b, fieldRPCode, m.RPCode)
	b = appendString(b, fieldFCMID, m.FCMID)
	b = appendString(b, fieldIBID, m.IBID)
	b = appendString(b, fieldCountryCode, m.CountryCode)
	b = appendString(b, fieldUniqueUserID, m.UniqueUserID)
	return appendDouble(b, fieldHeartbeatInterval, m.HeartbeatInterval)
}

func (m *LoginResponse) setField(f field) {
	switch f.num {
	case fieldTemplateVersion:
		m.TemplateVersion = f.asString()
	case fieldUserMsg:
		m.UserMsg = append(m.UserMsg, f.asString())
	case fieldRPCode:
		m.RPCode = append(m.RPCode, f.asString())
	case fieldFCMID:
		m.FCMID = f.asString()
	case fieldIBID:
		m.IBID = f.asString()
	case fieldCountryCode:
		m.CountryCode = f.asString()
	case fieldUniqueUserID:
		m.UniqueUserID = f.asString()
	case fieldHeartbeatInterval:
		m.HeartbeatInterval = f.asFloat64()
	}
}

// -----------------------------------------------------------------------------
// Heartbeat
// -----------------------------------------------------------------------------

// HeartbeatRequest keeps an idle session alive.
type HeartbeatRequest struct {
	UserMsg []string
	SSBOE   int32
	USecs   int32
}

func (*HeartbeatRequest) TemplateID() int32 { return TemplateHeartbeatRequest }

func (m *HeartbeatRequest) appendFields(b []byte) []byte {
	b = appendStrings(b, fieldUserMsg, m.UserMsg)
	b = appendInt32(b, fieldSSBOE, m.SSBOE)
	return appendInt32(b, fieldUSecs, m.USecs)
}

func (m *HeartbeatRequest) setField(f field) {
	switch f.num {
	case fieldUserMsg:
		m.UserMsg = append(m.UserMsg, f.asString())
	case fieldSSBOE:
		m.SSBOE = f.asInt32()
	case fieldUSecs:
		m.USecs = f.asInt32()
	}
}

// HeartbeatResponse answers a HeartbeatRequest.
type HeartbeatResponse struct {
	UserMsg []string
	RPCode  []string
	SSBOE   int32
	USecs   int32
}

func (*HeartbeatResponse) TemplateID() int32 { return TemplateHeartbeatResponse }

func (m *HeartbeatResponse) appendFields(b []byte) []byte {
	b = appendStrings(b, fieldUserMsg, m.UserMsg)
	b = appendStrings(b, fieldRPCode, m.RPCode)
	b = appendInt32(b, fieldSSBOE, m.SSBOE)
	return appendInt32(b, fieldUSecs, m.USecs)
}

func (m *HeartbeatResponse) setField(f field) {
	switch f.num {
	case fieldUserMsg:
		m.UserMsg = append(m.UserMsg, f.asString())
	case fieldRPCode:
		m.RPCode = append(m.RPCode, f.asString())
	case fieldSSBOE:
		m.SSBOE = f.asInt32()
	case fieldUSecs:
		m.USecs = f.asInt32()
	}
}

// -----------------------------------------------------------------------------
// Market data subscription
// -----------------------------------------------------------------------------

// MarketDataUpdateRequest subscribes to or unsubscribes from a symbol.
type MarketDataUpdateRequest struct {
	UserMsg    []string
	Symbol     string
	Exchange   string
	Request    Request
	UpdateBits UpdateBits
}

func (*MarketDataUpdateRequest) TemplateID() int32 { return TemplateMarketDataUpdateRequest }

func (m *MarketDataUpdateRequest) appendFields(b []byte) []byte {
	b = appendStrings(b, fieldUserMsg, m.UserMsg)
	b = appendString(b, fieldSymbol, m.Symbol)
	b = appendString(b, fieldExchange, m.Exchange)
	b = appendInt32(b, fieldRequest, int32(m.Request))
	return appendUint(b, fieldUpdateBits, uint64(m.UpdateBits))
}

func (m *MarketDataUpdateRequest) setField(f field) {
	switch f.num {
	case fieldUserMsg:
		m.UserMsg = append(m.UserMsg, f.asString())
	case fieldSymbol:
		m.Symbol = f.asString()
	case fieldExchange:
		m.Exchange = f.asString()
	case fieldRequest:
		m.Request = Request(f.asInt32())
	case fieldUpdateBits:
		m.UpdateBits = UpdateBits(f.asUint32())
	}
}

// MarketDataUpdateResponse acknowledges a subscription request.
type MarketDataUpdateResponse struct {
	UserMsg []string
	RPCode  []string
}

func (*MarketDataUpdateResponse) TemplateID() int32 { return TemplateMarketDataUpdateResponse }

// OK reports whether the subscription was accepted.
func (m *MarketDataUpdateResponse) OK() bool { return responseOK(m.RPCode) }

// Reason returns the response code text for logging.
func (m *MarketDataUpdateResponse) Reason() string { return rpReason(m.RPCode) }

func (m *MarketDataUpdateResponse) appendFields(b []byte) []byte {
	b = appendStrings(b, fieldUserMsg, m.UserMsg)
	return appendStrings(b, fieldRPCode, m.RPCode)
}

func (m *MarketDataUpdateResponse) setField(f field) {
	switch f.num {
	case fieldUserMsg:
		m.UserMsg = append(m.UserMsg, f.asString())
	case fieldRPCode:
		m.RPCode = append(m.RPCode, f.asString())
	}
}

// -----------------------------------------------------------------------------
// Market data events
// -----------------------------------------------------------------------------

// LastTrade is a trade print.
type LastTrade struct {
	Symbol       string
	Exchange     string
	PresenceBits uint32
	IsSnapshot   bool
	TradePrice   float64
	TradeSize    int32
	Volume       uint64 // Cumulative session volume
	SSBOE        int32
	USecs        int32
}

func (*LastTrade) TemplateID() int32 { return TemplateLastTrade }

// Time returns the exchange timestamp, or zero when absent.
func (m *LastTrade) Time() time.Time { return sourceTime(m.SSBOE, m.USecs) }

func (m *LastTrade) appendFields(b []byte) []byte {
	b = appendString(b, fieldSymbol, m.Symbol)
	b = appendString(b, fieldExchange, m.Exchange)
	b = appendUint(b, fieldPresenceBits, uint64(m.PresenceBits))
	b = appendBool(b, fieldIsSnapshot, m.IsSnapshot)
	b = appendDouble(b, fieldTradePrice, m.TradePrice)
	b = appendInt32(b, fieldTradeSize, m.TradeSize)
	b = appendUint(b, fieldVolume, m.Volume)
	b = appendInt32(b, fieldSSBOE, m.SSBOE)
	return appendInt32(b, fieldUSecs, m.USecs)
}

func (m *LastTrade) setField(f field) {
	switch f.num {
	case fieldSymbol:
		m.Symbol = f.asString()
	case fieldExchange:
		m.Exchange = f.asString()
	case fieldPresenceBits:
		m.PresenceBits = f.asUint32()
	case fieldIsSnapshot:
		m.IsSnapshot = f.asBool()
	case fieldTradePrice:
		m.TradePrice = f.asFloat64()
	case fieldTradeSize:
		m.TradeSize = f.asInt32()
	case fieldVolume:
		m.Volume = f.asUint64()
	case fieldSSBOE:
		m.SSBOE = f.asInt32()
	case fieldUSecs:
		m.USecs = f.asInt32()
	}
}

// BestBidOffer is a top-of-book update. A frame may carry only one side.
type BestBidOffer struct {
	Symbol       string
	Exchange     string
	PresenceBits uint32
	IsSnapshot   bool
	BidPrice     float64
	BidSize      int32
	AskPrice     float64
	AskSize      int32
	SSBOE        int32
	USecs        int32
}

func (*BestBidOffer) TemplateID() int32 { return TemplateBestBidOffer }

// Time returns the exchange timestamp, or zero when absent.
func (m *BestBidOffer) Time() time.Time { return sourceTime(m.SSBOE, m.USecs) }

// HasBid reports whether the frame updates the bid side.
func (m *BestBidOffer) HasBid() bool {
	return m.PresenceBits&PresenceBid != 0 || m.BidPrice > 0
}

// HasAsk reports whether the frame updates the ask side.
func (m *BestBidOffer) HasAsk() bool {
	return m.PresenceBits&PresenceAsk != 0 || m.AskPrice > 0
}

func (m *BestBidOffer) appendFields(b []byte) []byte {
	b = appendString(b, fieldSymbol, m.Symbol)
	b = appendString(b, fieldExchange, m.Exchange)
	b = appendUint(b, fieldPresenceBits, uint64(m.PresenceBits))
	b = appendBool(b, fieldIsSnapshot, m.IsSnapshot)
	b = appendDouble(b, fieldBidPrice, m.BidPrice)
	b = appendInt32(b, fieldBidSize, m.BidSize)
	b = appendDouble(b, fieldAskPrice, m.AskPrice)
	b = appendInt32(b, fieldAskSize, m.AskSize)
	b = appendInt32(b, fieldSSBOE, m.SSBOE)
	return appendInt32(b, fieldUSecs, m.USecs)
}

func (m *BestBidOffer) setField(f field) {
	switch f.num {
	case fieldSymbol:
		m.Symbol = f.asString()
	case fieldExchange:
		m.Exchange = f.asString()
	case fieldPresenceBits:
		m.PresenceBits = f.asUint32()
	case fieldIsSnapshot:
		m.IsSnapshot = f.asBool()
	case fieldBidPrice:
		m.BidPrice = f.asFloat64()
	case fieldBidSize:
		m.BidSize = f.asInt32()
	case fieldAskPrice:
		m.AskPrice = f.asFloat64()
	case fieldAskSize:
		m.AskSize = f.asInt32()
	case fieldSSBOE:
		m.SSBOE = f.asInt32()
	case fieldUSecs:
		m.USecs = f.asInt32()
	}
}
