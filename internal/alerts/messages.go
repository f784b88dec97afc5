package alerts

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindOpened    Kind = "opened"
	KindClosed    Kind = "closed"
	KindEmergency Kind = "emergency_exit"
	KindImbalance Kind = "imbalance"
)

var kindTitles = map[Kind]string{
	KindOpened:    "position opened",
	KindClosed:    "position closed",
	KindEmergency: "EMERGENCY EXIT",
	KindImbalance: "leg imbalance",
}

// Alert is one operator notification about an instrument.
type Alert struct {
	Kind       Kind
	Instrument string
	Detail     string
}

// Urgent alerts need someone to look at the venue.
func (a Alert) Urgent() bool {
	return a.Kind == KindEmergency || a.Kind == KindImbalance
}

// Text renders the alert as a single line.
func (a Alert) Text() string {
	title, ok := kindTitles[a.Kind]
	if !ok {
		title = string(a.Kind)
	}
	msg := fmt.Sprintf("[carry-engine] %s %s", strings.ToUpper(a.Instrument), title)
	if detail := strings.TrimSpace(a.Detail); detail != "" {
		msg += ": " + detail
	}
	return msg
}
