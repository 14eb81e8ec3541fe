package models

import "time"

// WOLConfig holds Wake-on-LAN configuration for the database host.
type WOLConfig struct {
	MACAddress    string
	BroadcastIP   string
	Timeout       time.Duration // max time to wait for the database to accept connections
	PollInterval  time.Duration // how often to ping the database
	StabilizeWait time.Duration // wait after the database answers
}

// WOLResult holds the result of a Wake-on-LAN operation.
type WOLResult struct {
	PacketSent    bool
	DatabaseReady bool
	WaitDuration  time.Duration
	Error         error
}
