package domain

import "time"

// ListenerCursor is the last block fully processed by one listener.
type ListenerCursor struct {
	ListenerKey        string
	LastProcessedBlock uint64
	UpdatedAt          time.Time
}
