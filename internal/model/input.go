package model

import "time"

type InputKind string

const (
	InputScan     InputKind = "scan"
	InputLocation InputKind = "location"
	InputLink     InputKind = "link"
)

type ScanReport struct {
	Timestamp time.Time            `json:"timestamp"`
	Emitters  []EmitterObservation `json:"emitters"`
}

type LinkStateChange struct {
	Disconnected bool      `json:"disconnected"`
	Timestamp    time.Time `json:"timestamp"`
}

// Input is one queued message from the acquisition side.
type Input struct {
	Kind     InputKind        `json:"kind"`
	Source   string           `json:"source,omitempty"`
	Scan     *ScanReport      `json:"scan,omitempty"`
	Location *LocationFix     `json:"location,omitempty"`
	Link     *LinkStateChange `json:"link,omitempty"`
}
