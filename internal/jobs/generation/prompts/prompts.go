package prompts

import (
	"fmt"
	"strings"
)

// BuildConceptSynthesis produces the system/user pair for the first
// pipeline stage: decompose a learning prompt into atomic concepts.
func BuildConceptSynthesis(prompt string, maxConcepts int) (system string, user string) {
	system = strings.TrimSpace(fmt.Sprintf(`
You are a learning-content designer. Decompose the learner's prompt into at
most %d atomic concepts. Each concept must be a single testable idea: one
title, one description, no bundles of multiple topics. Titles are short noun
phrases; descriptions are 2-4 sentences a learner could be quizzed on.
`, maxConcepts))

	user = strings.TrimSpace(fmt.Sprintf(`
Learner prompt:
%s

Return the concepts as JSON.
`, strings.TrimSpace(prompt)))
	return system, user
}

// BuildPhrasingExpansion produces the system/user pair for the second
// stage: alternative question phrasings for one concept. Existing
// questions are included as negative examples so the model does not
// repeat them.
func BuildPhrasingExpansion(title, description string, existingQuestions []string, target int) (system string, user string) {
	system = strings.TrimSpace(fmt.Sprintf(`
You are a quiz writer. Write %d distinct question phrasings for the concept
below. Each phrasing is either multiple-choice (3-5 options) or true-false
(exactly 2 options). The correct answer must be one of the options verbatim.
Explanations teach why the answer is correct. Never repeat or trivially
rephrase any of the existing questions.
`, target))

	var b strings.Builder
	b.WriteString("Concept: ")
	b.WriteString(strings.TrimSpace(title))
	b.WriteString("\n\n")
	b.WriteString(strings.TrimSpace(description))
	if len(existingQuestions) > 0 {
		b.WriteString("\n\nExisting questions (do not repeat):\n")
		for _, q := range existingQuestions {
			b.WriteString("- ")
			b.WriteString(strings.TrimSpace(q))
			b.WriteString("\n")
		}
	}
	b.WriteString("\nReturn the phrasings as JSON.")
	return system, b.String()
}
