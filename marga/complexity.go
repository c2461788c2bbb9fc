package marga

import "regexp"

// Complexity features. Each contributes points; the total maps to one of
// the five levels.

var verbRe = regexp.MustCompile(`(?i)\b(write|read|build|create|delete|move|fix|run|test|deploy|analyze|analyse|compare|design|implement|refactor|optimi[sz]e|migrate|debug|explain|prove|derive|summari[sz]e|translate)\b`)

var multiStepRe = regexp.MustCompile(`(?i)\b(then|after that|first|second|finally|next,|step \d|followed by|and then)\b`)

var domainRe = regexp.MustCompile(`(?i)\b(concurrency|distributed|cryptograph|compiler|kernel|database schema|kubernetes|protocol|algorithm|complexity|latency|throughput|transaction|consensus|topology)\b`)

// classifyComplexity estimates effort from message shape: length, verb
// density, multi-step connectives, domain vocabulary, and whether tools are
// in play. Per-task floors apply afterwards: reasoning is never below
// complex, vision never below medium.
func classifyComplexity(msg string, toolsAvailable bool, task TaskType) (Complexity, float64) {
	words := wordCount(msg)
	verbs := len(verbRe.FindAllString(msg, -1))
	steps := len(multiStepRe.FindAllString(msg, -1))
	domain := len(domainRe.FindAllString(msg, -1))

	var points int
	switch {
	case words > 150:
		points += 3
	case words > 60:
		points += 2
	case words > 20:
		points++
	}
	if verbs >= 3 {
		points += 2
	} else if verbs >= 1 {
		points++
	}
	if steps >= 2 {
		points += 2
	} else if steps == 1 {
		points++
	}
	if domain > 0 {
		points += 2
	}
	if toolsAvailable {
		points++
	}

	level := levelFor(points)

	// Confidence shrinks near bucket boundaries.
	conf := 0.9
	if points == 2 || points == 4 || points == 6 || points == 8 {
		conf = 0.7
	}

	level = applyFloor(level, task)
	return level, conf
}

func levelFor(points int) Complexity {
	switch {
	case points <= 1:
		return Trivial
	case points <= 3:
		return Simple
	case points <= 5:
		return Medium
	case points <= 7:
		return Complex
	default:
		return Expert
	}
}

// taskComplexityFloor holds the per-task minimum complexity.
var taskComplexityFloor = map[TaskType]Complexity{
	TaskReasoning: Complex,
	TaskVision:    Medium,
}

func applyFloor(level Complexity, task TaskType) Complexity {
	floor, ok := taskComplexityFloor[task]
	if !ok {
		return level
	}
	if complexityRank[level] < complexityRank[floor] {
		return floor
	}
	return level
}
