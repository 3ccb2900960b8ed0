package worker

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Keyword lists for the local analyzer. Matches shift the approval score
// the way a cautious reader would expect.
var (
	riskWords    = []string{"risk", "danger", "untested", "breaking", "deprecat", "urgent", "immediately", "all at once", "rewrite"}
	prudentWords = []string{"staged", "gradual", "rollback", "pilot", "tested", "review", "backup", "incremental"}
)

// localAnalysis produces a deterministic model-shaped answer for one sage.
// It exists so the system works end to end without a model endpoint: the
// score is derived from the question text, shifted by the persona's bias,
// and rendered as the same JSON document a model would be prompted for.
func localAnalysis(p persona, question, context string) string {
	text := strings.ToLower(question + " " + context)

	// Stable pseudo-score in [0.35,0.75) from the question itself, so
	// the same question always gets the same answer.
	h := fnv.New32a()
	h.Write([]byte(text))
	score := 0.35 + float64(h.Sum32()%40)/100

	var flagged, credited []string
	for _, w := range riskWords {
		if strings.Contains(text, w) {
			score -= 0.08
			flagged = append(flagged, w)
		}
	}
	for _, w := range prudentWords {
		if strings.Contains(text, w) {
			score += 0.08
			credited = append(credited, w)
		}
	}

	score += p.bias
	if score < 0.05 {
		score = 0.05
	}
	if score > 0.95 {
		score = 0.95
	}

	decision := "REJECTED"
	if score >= 0.5 {
		decision = "APPROVED"
	}

	reasoning := fmt.Sprintf("%s assessment of the proposal", p.Kind)
	if len(flagged) > 0 {
		reasoning += ", risk signals: " + strings.Join(flagged, ", ")
	}
	if len(credited) > 0 {
		reasoning += ", mitigations noted: " + strings.Join(credited, ", ")
	}

	analysis := fmt.Sprintf(
		"%s weighed the proposal from the %s standpoint. Weighted approval score %.2f against the 0.50 threshold.",
		p.Name, p.Kind, score)

	return fmt.Sprintf(`{"decision": %q, "reasoning": %q, "confidence": %.2f, "analysis": %q}`,
		decision, reasoning, score, analysis)
}
