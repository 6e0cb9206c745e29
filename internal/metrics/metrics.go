package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
)

// labeledCounter is a total plus per-label breakdown.
// Kept simple/thread-safe for use from middlewares, engine and exposition.
type labeledCounter struct {
	total   uint64
	mu      sync.Mutex
	byLabel map[string]uint64
}

func (c *labeledCounter) inc(label string) {
	atomic.AddUint64(&c.total, 1)
	c.mu.Lock()
	if c.byLabel == nil {
		c.byLabel = make(map[string]uint64)
	}
	c.byLabel[label]++
	c.mu.Unlock()
}

func (c *labeledCounter) snapshot() (uint64, map[string]uint64) {
	total := atomic.LoadUint64(&c.total)
	c.mu.Lock()
	defer c.mu.Unlock()
	by := make(map[string]uint64, len(c.byLabel))
	for k, v := range c.byLabel {
		by[k] = v
	}
	return total, by
}

var (
	rl               labeledCounter
	ruleFirings      labeledCounter
	actionFailures   labeledCounter
	scanRuns         labeledCounter
	dispatcherDrops  labeledCounter
	triggersReceived labeledCounter
)

// IncRateLimitDrop increments drop counters for the given prefix.
// Use prefix "global" for global limiter rejections.
func IncRateLimitDrop(prefix string) {
	if prefix == "" {
		prefix = "global"
	}
	rl.inc(prefix)
}

// RateLimitSnapshot returns a copy of the current counters.
func RateLimitSnapshot() (total uint64, by map[string]uint64) {
	return rl.snapshot()
}

// IncTriggerReceived counts ExecuteTrigger calls per trigger kind.
func IncTriggerReceived(trigger string) { triggersReceived.inc(trigger) }

// IncRuleFiring counts rules whose conditions matched, per trigger kind.
func IncRuleFiring(trigger string) { ruleFirings.inc(trigger) }

// IncActionFailure counts failed actions per error class.
func IncActionFailure(class string) {
	if class == "" {
		class = "unknown"
	}
	actionFailures.inc(class)
}

// IncScanRun counts completed tenant sweeps per scan kind.
func IncScanRun(kind string) { scanRuns.inc(kind) }

// IncDispatcherDrop counts triggers rejected by a full queue.
func IncDispatcherDrop(backend string) { dispatcherDrops.inc(backend) }

// Counter is one exported series family.
type Counter struct {
	Name    string
	Help    string
	Label   string
	Total   uint64
	ByLabel map[string]uint64
}

// Labels returns the label values in stable order.
func (c Counter) Labels() []string {
	keys := make([]string, 0, len(c.ByLabel))
	for k := range c.ByLabel {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns all counter families for exposition.
func Snapshot() []Counter {
	mk := func(name, help, label string, c *labeledCounter) Counter {
		total, by := c.snapshot()
		return Counter{Name: name, Help: help, Label: label, Total: total, ByLabel: by}
	}
	return []Counter{
		mk("complyhub_automation_triggers_total", "Triggers received by the rule engine", "trigger", &triggersReceived),
		mk("complyhub_automation_rule_firings_total", "Rules whose conditions matched", "trigger", &ruleFirings),
		mk("complyhub_automation_action_failures_total", "Failed automation actions", "class", &actionFailures),
		mk("complyhub_automation_scan_runs_total", "Completed tenant scan sweeps", "kind", &scanRuns),
		mk("complyhub_automation_dispatcher_dropped_total", "Triggers rejected by a full dispatcher queue", "backend", &dispatcherDrops),
		mk("complyhub_ratelimit_dropped_total", "Total HTTP 429 responses due to rate limiting", "prefix", &rl),
	}
}

// Reset clears every counter. Tests only.
func Reset() {
	for _, c := range []*labeledCounter{&rl, &ruleFirings, &actionFailures, &scanRuns, &dispatcherDrops, &triggersReceived} {
		c.mu.Lock()
		atomic.StoreUint64(&c.total, 0)
		c.byLabel = nil
		c.mu.Unlock()
	}
}
