package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var catalogue = map[int32]func() Message{
	TemplateLoginRequest:             func() Message { return &LoginRequest{} },
	TemplateLoginResponse:            func() Message { return &LoginResponse{} },
	TemplateHeartbeatRequest:         func() Message { return &HeartbeatRequest{} },
	TemplateHeartbeatResponse:        func() Message { return &HeartbeatResponse{} },
	TemplateMarketDataUpdateRequest:  func() Message { return &MarketDataUpdateRequest{} },
	TemplateMarketDataUpdateResponse: func() Message { return &MarketDataUpdateResponse{} },
	TemplateLastTrade:                func() Message { return &LastTrade{} },
	TemplateBestBidOffer:             func() Message { return &BestBidOffer{} },
}

// Known reports whether a template ID is in the catalogue.
func Known(templateID int32) bool {
	_, ok := catalogue[templateID]
	return ok
}

// Encode serializes a message, template_id first.
func Encode(m Message) []byte {
	b := make([]byte, 0, 64)
	b = protowire.AppendTag(b, fieldTemplateID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(m.TemplateID())))
	return m.appendFields(b)
}

// TemplateOf extracts the template_id without decoding the rest of the frame.
func TemplateOf(frame []byte) (int32, error) {
	var (
		id    int32
		found bool
	)
	err := readFields(frame, func(f field) {
		if f.num == fieldTemplateID && !found {
			id = f.asInt32()
			found = true
		}
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, ErrMissingTemplateID
	}
	return id, nil
}

// Decode fully decodes a frame into its catalogue type.
func Decode(frame []byte) (Message, error) {
	id, err := TemplateOf(frame)
	if err != nil {
		return nil, err
	}
	return DecodeAs(id, frame)
}

// DecodeAs decodes a frame whose template_id is already known.
func DecodeAs(templateID int32, frame []byte) (Message, error) {
	newMsg, ok := catalogue[templateID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTemplate, templateID)
	}
	m := newMsg()
	err := readFields(frame, func(f field) {
		if f.num != fieldTemplateID {
			m.setField(f)
		}
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}
