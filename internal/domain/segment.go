package domain

import (
	"fmt"
	"strings"
)

// Segment is a subscription tier of the users an alert is addressed to.
type Segment string

const (
	SegmentFree       Segment = "free"
	SegmentPremium    Segment = "premium"
	SegmentEnterprise Segment = "enterprise"
)

// AllSegments lists segments from the least to the most sensitive.
func AllSegments() []Segment {
	return []Segment{SegmentFree, SegmentPremium, SegmentEnterprise}
}

// ParseSegment normalises a textual segment name.
func ParseSegment(v string) (Segment, error) {
	switch s := Segment(strings.ToLower(strings.TrimSpace(v))); s {
	case SegmentFree, SegmentPremium, SegmentEnterprise:
		return s, nil
	default:
		return "", fmt.Errorf("unknown segment %q", v)
	}
}

// SegmentOutcome aggregates alert engagement for a segment over a window.
type SegmentOutcome struct {
	Segment   Segment
	Sent      int64
	Opened    int64
	Clicked   int64
	Converted int64
}

func (o SegmentOutcome) rate(n int64) float64 {
	if o.Sent <= 0 {
		return 0
	}
	return float64(n) / float64(o.Sent)
}

// OpenRate is opened/sent.
func (o SegmentOutcome) OpenRate() float64 { return o.rate(o.Opened) }

// ClickRate is clicked/sent.
func (o SegmentOutcome) ClickRate() float64 { return o.rate(o.Clicked) }

// ConversionRate is converted/sent.
func (o SegmentOutcome) ConversionRate() float64 { return o.rate(o.Converted) }

// EngagementEvent is a user interaction reported for a sent alert.
type EngagementEvent string

const (
	EventOpened    EngagementEvent = "opened"
	EventClicked   EngagementEvent = "clicked"
	EventConverted EngagementEvent = "converted"
)

// ParseEngagementEvent validates an event name.
func ParseEngagementEvent(v string) (EngagementEvent, error) {
	switch e := EngagementEvent(strings.ToLower(strings.TrimSpace(v))); e {
	case EventOpened, EventClicked, EventConverted:
		return e, nil
	default:
		return "", fmt.Errorf("unknown engagement event %q", v)
	}
}
