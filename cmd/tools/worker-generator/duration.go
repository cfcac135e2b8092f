package main

import (
	"fmt"
	"time"
)

// durationLiteral turns a registry timeout like "10s" into Go source.
func durationLiteral(s string) string {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return "10 * time.Second"
	}
	switch {
	case d%time.Minute == 0:
		return fmt.Sprintf("%d * time.Minute", d/time.Minute)
	case d%time.Second == 0:
		return fmt.Sprintf("%d * time.Second", d/time.Second)
	default:
		return fmt.Sprintf("%d * time.Millisecond", d/time.Millisecond)
	}
}
