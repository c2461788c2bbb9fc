package marga

import (
	"regexp"
	"strings"
)

// patternGroup scores one task type. Weight scales each pattern hit;
// priority breaks exact ties between groups.
type patternGroup struct {
	task     TaskType
	weight   float64
	priority int
	patterns []*regexp.Regexp
}

func group(task TaskType, weight float64, priority int, exprs ...string) patternGroup {
	g := patternGroup{task: task, weight: weight, priority: priority}
	for _, e := range exprs {
		g.patterns = append(g.patterns, regexp.MustCompile(`(?i)`+e))
	}
	return g
}

var taskGroups = []patternGroup{
	group(TaskCodeGen, 1.0, 8,
		`\b(write|implement|refactor|fix|debug)\b.*\b(code|function|method|class|test|bug)\b`,
		`\b(compile|stack trace|segfault|panic|exception)\b`,
		"```", `\bregex\b`, `\b(golang|python|typescript|rust|sql)\b`),
	group(TaskReasoning, 1.0, 7,
		`\b(why|prove|derive|analy[sz]e|compare and contrast|trade-?offs?)\b`,
		`\b(step by step|reason through|think through|logic)\b`,
		`\b(calculate|solve)\b.*\b(equation|problem)\b`),
	group(TaskSearch, 1.1, 9,
		`\b(search|look up|find)\b.*\b(for|about|online|web)\b`,
		`\b(latest|current|recent)\b.*\b(news|version|release)\b`),
	group(TaskFileOp, 1.1, 9,
		`\b(read|open|list|delete|move|rename|create)\b.*\b(file|files|folder|directory)\b`,
		`\bls\b|\bcat\b\s+\S+\.`),
	group(TaskSummarize, 1.0, 6,
		`\b(summari[sz]e|tl;?dr|condense|shorten)\b`,
		`\bgive me the gist\b`),
	group(TaskTranslate, 1.0, 6,
		`\btranslate\b`, `\b(into|to)\s+(english|spanish|french|german|japanese|hindi|chinese)\b`),
	group(TaskVision, 1.2, 9,
		`\b(image|photo|picture|screenshot|diagram)\b`,
		`\bwhat('s| is) (in|on) (this|the) (image|picture|screen)\b`),
	group(TaskMemory, 1.1, 8,
		`\b(remember|recall|what did (i|we))\b`,
		`\b(last|previous)\b.*\b(session|conversation)\b`),
	group(TaskToolExec, 1.0, 7,
		`\b(run|execute|invoke|call)\b.*\b(tool|command|script)\b`),
	group(TaskAPICall, 1.0, 7,
		`\b(call|hit|query)\b.*\b(api|endpoint|webhook)\b`,
		`\b(get|post|put|delete)\s+https?://`),
	group(TaskHeartbeat, 1.5, 10,
		`\A\s*(ping|heartbeat|healthcheck)\s*\z`),
	group(TaskCompaction, 1.3, 10,
		`\b(compact|prune|trim)\b.*\b(context|history|conversation)\b`),
	group(TaskEmbedding, 1.2, 8,
		`\b(embed|embedding|vectori[sz]e)\b`),
	group(TaskSmalltalk, 0.9, 3,
		`\A\s*(hi|hello|hey|yo|good (morning|evening|afternoon))\b`,
		`\A[\s,!.]*((thanks|thank you|thx|ok(ay)?|got it|cool|nice|great|perfect|sounds good)[\s,!.]*)+\z`,
		`\bhow are you\b`, `\byou (there|up|around)\b`, `\bstill (working|there)\b`,
		`\A\s*(status|any update)s?\??\s*\z`),
}

// ackPatterns and checkinPatterns split smalltalk into its two subtypes.
var ackPatterns = regexp.MustCompile(`(?i)\A[\s,!.]*((thanks|thank you|thx|ok(ay)?|got it|cool|nice|great|perfect|sounds good|👍)[\s,!.]*)+\z`)

var checkinPatterns = regexp.MustCompile(`(?i)\bhow are you\b|\byou (there|up|around)\b|\bstill (working|there)\b|\A\s*(status|any update)s?\??\s*\z`)

// greetingRe matches a leading greeting; actionRe detects that the message
// carries real work after it. Greeting plus action is never smalltalk.
var greetingRe = regexp.MustCompile(`(?i)\A\s*(hi|hello|hey|yo|good (morning|evening|afternoon))\b`)

var actionRe = regexp.MustCompile(`(?i)\b(can you|could you|please|help me|i need|write|fix|find|search|run|explain|summarize|translate|implement|delete|create)\b`)

// tieBand is the relative score gap under which the top two task types are
// considered a near tie.
const tieBand = 0.15

type scoredTask struct {
	task     TaskType
	score    float64
	priority int
}

// classifyTask scores every pattern group against the message. Returns the
// winning task, the runner-up, a sub-confidence, the near-tie abstain flag,
// and the smalltalk check-in subtype ("" unless task is smalltalk).
func classifyTask(in Input) (task, second TaskType, conf float64, abstain bool, checkin string) {
	msg := in.Message

	scores := make([]scoredTask, 0, len(taskGroups))
	for _, g := range taskGroups {
		var hits int
		for _, p := range g.patterns {
			if p.MatchString(msg) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		scores = append(scores, scoredTask{task: g.task, score: float64(hits) * g.weight, priority: g.priority})
	}

	// Capability inputs force their task when the patterns agree.
	if in.ImagesPresent {
		scores = append(scores, scoredTask{task: TaskVision, score: 2.0, priority: 11})
	}
	if in.ToolsAvailable && actionRe.MatchString(msg) {
		scores = append(scores, scoredTask{task: TaskToolExec, score: 0.5, priority: 2})
	}

	if len(scores) == 0 {
		// Nothing matched: default chat with neutral confidence.
		return TaskChat, "", 0.6, false, ""
	}

	best, runnerUp := topTwo(scores)
	task = best.task
	if runnerUp.task != "" && runnerUp.task != task {
		second = runnerUp.task
	}

	// A greeting followed by a concrete request is work, not smalltalk.
	if task == TaskSmalltalk && greetingRe.MatchString(msg) && actionRe.MatchString(msg) {
		if second != "" {
			task, second = second, TaskSmalltalk
		} else {
			task, second = TaskChat, TaskSmalltalk
		}
	}

	if task == TaskSmalltalk {
		switch {
		case checkinPatterns.MatchString(msg):
			checkin = "checkin"
		case ackPatterns.MatchString(msg):
			checkin = "ack"
		}
	}

	conf = taskConfidence(best.score, runnerUp.score)
	if runnerUp.score > 0 && (best.score-runnerUp.score)/best.score < tieBand {
		abstain = true
	}
	return task, second, conf, abstain, checkin
}

// taskConfidence maps the score margin to [0.5, 1.0]: a clear winner
// approaches 1, a photo finish stays near 0.5.
func taskConfidence(best, second float64) float64 {
	if best <= 0 {
		return 0.5
	}
	margin := (best - second) / best
	return 0.5 + 0.5*margin
}

// wordCount is a cheap token count used by the complexity features.
func wordCount(s string) int {
	return len(strings.Fields(s))
}
