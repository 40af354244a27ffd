// Package triage decides where a failed task goes next.
package triage

import (
	"strings"

	"github.com/nexuslab/dispatch/internal/dispatch/classify"
)

// Action is the routing decision for a failed task.
type Action string

const (
	ActionRequeue Action = "requeue"
	ActionHold    Action = "hold"
	ActionAlarm   Action = "alarm"
	ActionIgnore  Action = "ignore"
)

// Decision pairs an action with the rule that produced it.
type Decision struct {
	Action Action
	Reason string
}

// Overrides holds operator-configured failure-code routing. Explicit
// overrides beat the built-in defaults; hold beats alarm beats requeue when
// a code is listed more than once.
type Overrides struct {
	Requeue []string `yaml:"requeue"`
	Hold    []string `yaml:"hold"`
	Alarm   []string `yaml:"alarm"`
}

// Engine resolves failure codes to triage decisions.
type Engine struct {
	requeue map[string]struct{}
	hold    map[string]struct{}
	alarm   map[string]struct{}
}

// NewEngine builds a triage engine from operator overrides.
func NewEngine(ov Overrides) *Engine {
	return &Engine{
		requeue: toSet(ov.Requeue),
		hold:    toSet(ov.Hold),
		alarm:   toSet(ov.Alarm),
	}
}

func toSet(codes []string) map[string]struct{} {
	m := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c != "" {
			m[c] = struct{}{}
		}
	}
	return m
}

// Decide maps a failure code to an action.
func (e *Engine) Decide(failureCode string) Decision {
	fc := strings.TrimSpace(failureCode)
	if fc == "" {
		fc = "unknown"
	}

	if _, ok := e.hold[fc]; ok {
		return Decision{ActionHold, "configured hold code"}
	}
	if _, ok := e.alarm[fc]; ok {
		return Decision{ActionAlarm, "configured alarm code"}
	}
	if _, ok := e.requeue[fc]; ok {
		return Decision{ActionRequeue, "configured requeue code"}
	}

	switch fc {
	case classify.ProviderTimeout, classify.ProviderUpstreamError, classify.ProviderRateLimit:
		return Decision{ActionRequeue, "default transient provider error"}
	case classify.ProviderAuthError, classify.ProviderDisabled:
		return Decision{ActionAlarm, "non-transient provider config/auth"}
	}
	if strings.HasPrefix(fc, "SCHEMA_") {
		return Decision{ActionHold, "schema issue needs prompt/schema fix"}
	}

	return Decision{ActionIgnore, "no rule matched"}
}
