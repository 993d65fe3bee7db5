package events

import "time"

const (
	// Inbound frames are tiny (hello); anything larger is a misbehaving peer.
	maxFrameBytes = 4 << 10

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection inbound events per window.
	rateLimitEvents = 20
	rateLimitWindow = 10 * time.Second

	defaultSendQueue = 16
	maxPingFailures  = 3
	closeGrace       = time.Second
)
