package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for observability spans and metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")

	AttrTokensInput      = attribute.Key("llm.tokens.input")
	AttrTokensOutput     = attribute.Key("llm.tokens.output")
	AttrTokensCacheRead  = attribute.Key("llm.tokens.cache_read")
	AttrTokensCacheWrite = attribute.Key("llm.tokens.cache_write")
	AttrCostUSD          = attribute.Key("llm.cost_usd")

	AttrToolCount = attribute.Key("llm.tool_count")
	AttrToolNames = attribute.Key("llm.tool_names")

	AttrStreamEvents = attribute.Key("llm.stream_events")
	AttrStopReason   = attribute.Key("llm.stop_reason")

	AttrToolName         = attribute.Key("tool.name")
	AttrToolStatus       = attribute.Key("tool.status")
	AttrToolResultLength = attribute.Key("tool.result_length")

	AttrAgentID      = attribute.Key("agent.id")
	AttrAgentPurpose = attribute.Key("agent.purpose")
	AttrAgentDepth   = attribute.Key("agent.depth")
	AttrAgentStatus  = attribute.Key("agent.status")

	AttrSessionID = attribute.Key("session.id")

	AttrRouteTaskType   = attribute.Key("routing.task_type")
	AttrRouteResolution = attribute.Key("routing.resolution")
	AttrRouteComplexity = attribute.Key("routing.complexity")
	AttrRouteSkipLLM    = attribute.Key("routing.skip_llm")

	AttrIndexOp = attribute.Key("index.op")
)
