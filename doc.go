// Package chitragupta is a multi-agent runtime that schedules LLM reasoning
// and tool execution as a supervised tree of cooperating agents.
//
// The core surface is the Agent: a stateful reason-act-observe loop driven by
// a streaming Provider and a ToolExecutor. Agents spawn bounded sub-agent
// trees, accept mid-flight steering, and propagate aborts to descendants.
// Around the loop sit the supporting subsystems, each in its own package:
//
//   - marga: routing pipeline binding a request to a provider/model tier
//     with an ordered escalation chain
//   - mesh: actor mailboxes, envelope routing, ask/reply correlation, and
//     gossip-based peer membership
//   - hub: named channels, shared memory regions, locks, barriers,
//     semaphores, and result collectors
//   - session: append-only transcript store with a write-through relational
//     index and full-text search
//   - bocpd: Bayesian online change-point detection over behavioral
//     features, crystallizing stable tendencies (vasanas)
//   - kartavya: proposal/approval pipeline for recurring duties with cron,
//     event, threshold, and pattern triggers
//
// The root package holds the domain types, the streaming provider
// abstraction with circuit breaking and error classification, the retry
// policy, the tool executor, and the agent tree itself.
package chitragupta
