package metrics

import (
	"time"

	"search-authorizer/internal/audit"
)

// Recorder is the metrics surface used by the search service. *Metrics
// implements it; Nop discards everything.
type Recorder interface {
	Decision(approved bool, probability float64, latency time.Duration)
	ScoringFailure()
	ValidationFailure(field string)
	Duplicate()
	Coordinates(imputed, unresolved bool)
	Outcome(predicted, actual bool)
	Audit(rep *audit.Report)
	StreamClientsChanged(n int)
}

var _ Recorder = (*Metrics)(nil)

// Nop is a Recorder that records nothing.
type Nop struct{}

func (Nop) Decision(bool, float64, time.Duration) {}
func (Nop) ScoringFailure()                       {}
func (Nop) ValidationFailure(string)              {}
func (Nop) Duplicate()                            {}
func (Nop) Coordinates(bool, bool)                {}
func (Nop) Outcome(bool, bool)                    {}
func (Nop) Audit(*audit.Report)                   {}
func (Nop) StreamClientsChanged(int)              {}
