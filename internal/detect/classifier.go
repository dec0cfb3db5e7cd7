package detect

import (
	"sync"
	"time"

	"github.com/MrWong99/proctor/internal/feature"
)

// DefaultCooldown is the minimum time between two emitted events.
const DefaultCooldown = 10 * time.Second

// Event is a classified anomaly ready for reporting.
type Event struct {
	Type   Type
	Sample feature.Sample
	At     time.Time
}

// Decision is the outcome of classifying one sample.
type Decision int

const (
	// DecisionNone means no rule matched.
	DecisionNone Decision = iota

	// DecisionEmitted means a rule matched and an event was produced.
	DecisionEmitted

	// DecisionSuppressed means a rule matched inside the cooldown window.
	// The match is dropped, not deferred.
	DecisionSuppressed
)

// String returns the lower-case name of the decision.
func (d Decision) String() string {
	switch d {
	case DecisionNone:
		return "none"
	case DecisionEmitted:
		return "emitted"
	case DecisionSuppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// Classifier applies the ordered rules and the cooldown to a sample stream.
// One Classifier belongs to one session. It is safe for concurrent use,
// although the extraction task calls it from a single goroutine.
type Classifier struct {
	rules    []Rule
	cooldown time.Duration

	mu      sync.Mutex
	last    time.Time
	emitted bool
}

// Option configures a [Classifier].
type Option func(*Classifier)

// WithCooldown sets the minimum time between emitted events. Zero disables
// the cooldown.
func WithCooldown(d time.Duration) Option {
	return func(c *Classifier) {
		c.cooldown = max(d, 0)
	}
}

// WithRules replaces the built-in rule list.
func WithRules(rules []Rule) Option {
	return func(c *Classifier) {
		c.rules = rules
	}
}

// NewClassifier creates a Classifier with the given thresholds and
// [DefaultCooldown].
func NewClassifier(t Thresholds, opts ...Option) *Classifier {
	c := &Classifier{
		rules:    Rules(t),
		cooldown: DefaultCooldown,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Classify evaluates s. Elapsed time is measured on sample timestamps, so a
// match is emitted once at least the cooldown has passed since the previous
// emitted event. A suppressed match leaves the classifier unchanged; the
// returned Event then names the matched type for accounting only and must not
// be reported.
func (c *Classifier) Classify(s feature.Sample) (Event, Decision) {
	typ, ok := Evaluate(c.rules, s)
	if !ok {
		return Event{}, DecisionNone
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.emitted && s.At.Sub(c.last) < c.cooldown {
		return Event{Type: typ, Sample: s, At: s.At}, DecisionSuppressed
	}
	c.last = s.At
	c.emitted = true
	return Event{Type: typ, Sample: s, At: s.At}, DecisionEmitted
}

// Reset clears the cooldown state.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = time.Time{}
	c.emitted = false
}
