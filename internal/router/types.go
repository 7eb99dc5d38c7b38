package router

import "time"

// Frame is one inbound binary message with its envelope already read.
type Frame struct {
	TemplateID int32
	Data       []byte
	ReceivedAt time.Time
}

// Handler processes a frame of one template. Returned errors are counted
// and logged; they never stop routing.
type Handler func(Frame) error

// Table maps template IDs to handlers.
type Table map[int32]Handler

// RouterStats contains runtime statistics.
type RouterStats struct {
	MessagesReceived int64
	MessagesRouted   int64
	ParseErrors      int64
	HandlerErrors    int64
	UnknownMessages  int64
}
