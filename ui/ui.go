// Package ui drives the feedback hardware of the box.
package ui

import "time"

// DefaultBuzzerPin is header pin 18.
const DefaultBuzzerPin = "GPIO24"

// DefaultBeep is how long the buzzer sounds for a recognized card.
const DefaultBeep = 150 * time.Millisecond

type Buzzer interface {
	// Beep sounds the buzzer for d and returns when it is quiet again.
	Beep(d time.Duration)
	Close() error
}
