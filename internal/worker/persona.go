package worker

import (
	"fmt"

	"github.com/nerv-tools/magi/internal/model"
)

// persona describes one answering sage: its display metadata, the system
// prompt used on the model path, and the bias its local analyzer applies.
type persona struct {
	ID     model.AgentID
	Name   string
	Kind   string
	Prompt string

	// bias shifts the local analyzer's approval score, negative is
	// stricter. Caspar blocks what Balthasar waves through.
	bias float64
}

var personas = map[model.AgentID]persona{
	model.AgentCaspar: {
		ID:   model.AgentCaspar,
		Name: "CASPAR",
		Kind: "conservative",
		Prompt: sagePrompt("CASPAR", "the conservative, risk-first sage", []string{
			"safety and impact on existing systems",
			"feasibility and required resources",
			"track record and prior art",
			"risk and recoverability",
		}),
		bias: -0.15,
	},
	model.AgentBalthasar: {
		ID:   model.AgentBalthasar,
		Name: "BALTHASAR",
		Kind: "innovative",
		Prompt: sagePrompt("BALTHASAR", "the innovative, human-values-first sage", []string{
			"novelty and creative value",
			"human and ethical dimensions",
			"emotional and intuitive factors",
			"new possibilities opened",
		}),
		bias: 0.15,
	},
	model.AgentMelchior: {
		ID:   model.AgentMelchior,
		Name: "MELCHIOR",
		Kind: "balanced",
		Prompt: sagePrompt("MELCHIOR", "the balanced, evidence-first sage", []string{
			"data and statistical grounding",
			"logical consistency",
			"integration of multiple viewpoints",
			"scientific method",
		}),
		bias: 0,
	},
}

// sageOrder is the emission order of the three sages.
var sageOrder = []model.AgentID{model.AgentMelchior, model.AgentCaspar, model.AgentBalthasar}

func sagePrompt(name, role string, criteria []string) string {
	criteriaList := ""
	for i, c := range criteria {
		criteriaList += fmt.Sprintf("%d. %s\n", i+1, c)
	}
	return fmt.Sprintf(`You are %s, %s of the MAGI decision system.

## Criteria
%s
## Output
Answer with a single JSON document:
{
  "decision": "APPROVED" or "REJECTED",
  "reasoning": "grounds for the decision",
  "confidence": a number between 0.0 and 1.0,
  "analysis": "detailed analysis"
}`, name, role, criteriaList)
}

const judgePrompt = `You are SOLOMON, the judge of the MAGI decision system.
Three sages have ruled on a question; evaluate their verdicts and issue the
final ruling.

## Output
Answer with a single JSON document:
{
  "final_decision": "APPROVED" or "REJECTED",
  "summary": "summary of the deliberation",
  "final_recommendation": "recommended next step",
  "reasoning": "grounds for the ruling",
  "confidence": a number between 0.0 and 1.0,
  "scores": [{"agent_id": "caspar|balthasar|melchior", "score": 0-100, "reasoning": "grounds"}]
}`

// thinkingSteps is the fixed thought trail surfaced while a sage works.
var thinkingSteps = []string{
	"parsing the question",
	"gathering context",
	"weighing the criteria",
	"drawing a conclusion",
}
