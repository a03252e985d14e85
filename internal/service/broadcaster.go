package service

// Broadcaster interface for WebSocket broadcasting (avoids import cycle)
type Broadcaster interface {
	BroadcastToResponse(responseID string, msgType string, payload interface{})
}

type nopBroadcaster struct{}

func (nopBroadcaster) BroadcastToResponse(string, string, interface{}) {}
