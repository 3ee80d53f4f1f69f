package processor

import (
	"strings"
	"sync/atomic"

	"alertrelay/internal/queue"
)

const DefaultCritical = 90.0

// Verdict is a breach decision. Limit is the threshold that was crossed.
type Verdict struct {
	Priority queue.Priority
	Limit    float64
}

// Evaluator decides whether a usage reading for a domain is abnormal.
type Evaluator interface {
	Evaluate(domain string, usage float64) (Verdict, bool)
}

// Threshold holds one domain's limits. Warning <= 0 disables the medium tier.
type Threshold struct {
	Critical float64 `json:"critical"`
	Warning  float64 `json:"warning"`
}

// ThresholdEvaluator maps usage >= Critical to high and usage >= Warning
// to medium. Domains missing from Rules use Default.
type ThresholdEvaluator struct {
	Rules   map[string]Threshold
	Default Threshold
}

func NewThresholdEvaluator(rules map[string]Threshold) *ThresholdEvaluator {
	norm := make(map[string]Threshold, len(rules))
	for k, v := range rules {
		norm[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return &ThresholdEvaluator{Rules: norm, Default: Threshold{Critical: DefaultCritical}}
}

func (e *ThresholdEvaluator) threshold(domain string) Threshold {
	t, ok := e.Rules[domain]
	if !ok {
		t = e.Default
	}
	if t.Critical <= 0 {
		t.Critical = DefaultCritical
	}
	return t
}

func (e *ThresholdEvaluator) Evaluate(domain string, usage float64) (Verdict, bool) {
	t := e.threshold(domain)
	switch {
	case usage >= t.Critical:
		return Verdict{Priority: queue.High, Limit: t.Critical}, true
	case t.Warning > 0 && usage >= t.Warning:
		return Verdict{Priority: queue.Medium, Limit: t.Warning}, true
	}
	return Verdict{}, false
}

// Swappable forwards to an Evaluator that can be replaced at runtime, e.g.
// when the rules file is reloaded.
type Swappable struct {
	cur atomic.Pointer[evaluatorBox]
}

type evaluatorBox struct{ e Evaluator }

func NewSwappable(e Evaluator) *Swappable {
	s := &Swappable{}
	s.Set(e)
	return s
}

func (s *Swappable) Set(e Evaluator) { s.cur.Store(&evaluatorBox{e: e}) }

func (s *Swappable) Evaluate(domain string, usage float64) (Verdict, bool) {
	b := s.cur.Load()
	if b == nil || b.e == nil {
		return Verdict{}, false
	}
	return b.e.Evaluate(domain, usage)
}
