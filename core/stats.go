package core

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// DropReason says why a message left a buffer without being delivered.
type DropReason string

const (
	DropBufferFull DropReason = "buffer_full"
	DropExpired    DropReason = "ttl_expired"
)

// Stats accumulates message-level counters for one run.
type Stats struct {
	Created   int
	Started   int
	Relayed   int
	Aborted   int
	Dropped   int
	Removed   int
	Delivered int
	Refused   int

	latencySum float64
	hopSum     int
}

// DeliveryProbability is delivered over created.
func (s Stats) DeliveryProbability() float64 {
	if s.Created == 0 {
		return 0
	}
	return float64(s.Delivered) / float64(s.Created)
}

// OverheadRatio is (relayed - delivered) / delivered, or -1 when nothing
// was delivered.
func (s Stats) OverheadRatio() float64 {
	if s.Delivered == 0 {
		return -1
	}
	return float64(s.Relayed-s.Delivered) / float64(s.Delivered)
}

func (s Stats) MeanLatency() float64 {
	if s.Delivered == 0 {
		return 0
	}
	return s.latencySum / float64(s.Delivered)
}

func (s Stats) MeanHopCount() float64 {
	if s.Delivered == 0 {
		return 0
	}
	return float64(s.hopSum) / float64(s.Delivered)
}

func (s *Stats) recordDelivery(latency float64, hops int) {
	s.Delivered++
	s.latencySum += latency
	s.hopSum += hops
}

// Report writes a human-readable summary.
func (s Stats) Report(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	rows := []struct {
		name  string
		value any
	}{
		{"created", s.Created},
		{"started", s.Started},
		{"relayed", s.Relayed},
		{"aborted", s.Aborted},
		{"refused", s.Refused},
		{"dropped", s.Dropped},
		{"removed", s.Removed},
		{"delivered", s.Delivered},
		{"delivery_prob", fmt.Sprintf("%.4f", s.DeliveryProbability())},
		{"overhead_ratio", fmt.Sprintf("%.4f", s.OverheadRatio())},
		{"latency_avg", fmt.Sprintf("%.4f", s.MeanLatency())},
		{"hopcount_avg", fmt.Sprintf("%.4f", s.MeanHopCount())},
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(tw, "%s:\t%v\n", r.name, r.value); err != nil {
			return err
		}
	}
	return tw.Flush()
}
