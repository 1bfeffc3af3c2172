package config

import "time"

const (
	// Live channel
	WriteWait      = 10 * time.Second
	PongWait       = 60 * time.Second
	PingPeriod     = (PongWait * 9) / 10
	MaxFrameSize   = 8 * 1024
	SendBufferSize = 256

	// Messages
	MaxMessageLength  = 4000
	MaxImageRefLength = 1024

	// Notification fan-out
	FanoutTimeout = 10 * time.Second
	FanoutRetries = 3
)
