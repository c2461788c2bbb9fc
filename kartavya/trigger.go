package kartavya

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// EvalContext is the world state one evaluation tick sees.
type EvalContext struct {
	Now      time.Time
	Events   []string
	Metrics  map[string]float64
	Patterns []string
}

// cronCache memoizes parsed 5-field cron expressions per condition.
// A condition that fails to parse is cached as nil and never matches.
type cronCache struct {
	mu    sync.Mutex
	byExp map[string]cron.Schedule
}

func newCronCache() *cronCache {
	return &cronCache{byExp: make(map[string]cron.Schedule)}
}

func (c *cronCache) get(expr string) cron.Schedule {
	c.mu.Lock()
	defer c.mu.Unlock()
	sched, ok := c.byExp[expr]
	if !ok {
		sched, _ = cron.ParseStandard(expr)
		c.byExp[expr] = sched
	}
	return sched
}

// Evaluate runs one trigger tick over all active duties and returns the
// ones that fired, with cooldown and the hourly rate cap already applied
// and their LastFired stamps advanced.
func (e *Engine) Evaluate(ctx context.Context, ec EvalContext) ([]Kartavya, error) {
	if ec.Now.IsZero() {
		ec.Now = e.cfg.Now()
	}
	nowMs := ec.Now.UnixMilli()
	hourAgo := nowMs - time.Hour.Milliseconds()

	e.mu.Lock()
	var fired []Kartavya
	for _, d := range e.duties {
		if d.Status != StatusActive {
			continue
		}
		if !e.matches(d.Trigger, ec) {
			continue
		}
		if d.Trigger.LastFired != 0 && nowMs-d.Trigger.LastFired < d.Trigger.CooldownMs {
			continue
		}

		// Prune stamps outside the sliding hour before applying the cap.
		recent := d.Fired[:0]
		for _, ts := range d.Fired {
			if ts > hourAgo {
				recent = append(recent, ts)
			}
		}
		d.Fired = recent
		if len(d.Fired) >= e.cfg.MaxExecutionsPerHour {
			continue
		}

		d.Trigger.LastFired = nowMs
		d.Fired = append(d.Fired, nowMs)
		d.UpdatedAt = nowMs
		fired = append(fired, *d)
	}
	e.mu.Unlock()

	for _, d := range fired {
		if err := e.saveDuty(ctx, d); err != nil {
			return fired, err
		}
		e.logger.Debug("duty fired", "id", d.ID, "trigger", d.Trigger.Type)
	}
	return fired, nil
}

func (e *Engine) matches(t Trigger, ec EvalContext) bool {
	switch t.Type {
	case TriggerCron:
		return e.cronMatches(t.Condition, ec.Now)
	case TriggerEvent:
		for _, ev := range ec.Events {
			if ev == t.Condition {
				return true
			}
		}
		return false
	case TriggerThreshold:
		return thresholdMatches(t.Condition, ec.Metrics)
	case TriggerPattern:
		return patternMatches(t.Condition, ec.Patterns)
	default:
		return false
	}
}

// cronMatches reports whether the expression's schedule includes the
// minute containing now.
func (e *Engine) cronMatches(expr string, now time.Time) bool {
	sched := e.crons.get(expr)
	if sched == nil {
		return false
	}
	minute := now.Truncate(time.Minute)
	return sched.Next(minute.Add(-time.Second)).Equal(minute)
}

// thresholdMatches parses "metric op value" and compares against the
// tick's metrics. Unknown metrics and malformed conditions never match.
func thresholdMatches(condition string, metrics map[string]float64) bool {
	fields := strings.Fields(condition)
	if len(fields) != 3 {
		return false
	}
	actual, ok := metrics[fields[0]]
	if !ok {
		return false
	}
	want, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return false
	}
	switch fields[1] {
	case ">":
		return actual > want
	case "<":
		return actual < want
	case ">=":
		return actual >= want
	case "<=":
		return actual <= want
	case "==":
		return actual == want
	default:
		return false
	}
}

// patternMatches tries the condition as a regex over each pattern
// element, falling back to substring matching when it does not compile.
func patternMatches(condition string, patterns []string) bool {
	re, err := regexp.Compile(condition)
	for _, p := range patterns {
		if err != nil {
			if strings.Contains(p, condition) {
				return true
			}
			continue
		}
		if re.MatchString(p) {
			return true
		}
	}
	return false
}
