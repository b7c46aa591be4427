package steps

import (
	"encoding/json"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/yungbote/studyforge-backend/internal/domain/generation"
)

// Acceptance bounds for model output. Items outside these bounds are
// dropped, never truncated or repaired.
const (
	minTitleLen       = 5
	maxTitleLen       = 120
	minDescriptionLen = 40
	maxDescriptionLen = 800
	minQuestionLen    = 12
	maxQuestionLen    = 400
	minExplanationLen = 12
	minChoiceOptions  = 3
	maxChoiceOptions  = 5
)

// ConceptIdea is one decoded concept candidate from the synthesis call.
type ConceptIdea struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Rationale   string `json:"rationale"`
}

// GeneratedPhrasing is one decoded phrasing candidate from the
// expansion call.
type GeneratedPhrasing struct {
	Question      string   `json:"question"`
	Explanation   string   `json:"explanation"`
	Type          string   `json:"type"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
}

// DecodeConceptIdeas pulls the ideas array out of the raw structured
// response.
func DecodeConceptIdeas(obj map[string]any) ([]ConceptIdea, error) {
	raw, err := json.Marshal(obj["ideas"])
	if err != nil {
		return nil, err
	}
	var out []ConceptIdea
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodePhrasings pulls the phrasings array out of the raw structured
// response.
func DecodePhrasings(obj map[string]any) ([]GeneratedPhrasing, error) {
	raw, err := json.Marshal(obj["phrasings"])
	if err != nil {
		return nil, err
	}
	var out []GeneratedPhrasing
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PrepareConceptIdeas filters model output down to the ideas worth
// persisting: trimmed, length-bounded, deduplicated case-insensitively
// by title, bundle-looking items dropped, capped at maxConcepts.
func PrepareConceptIdeas(ideas []ConceptIdea, maxConcepts int) []ConceptIdea {
	if maxConcepts <= 0 {
		maxConcepts = 6
	}
	out := make([]ConceptIdea, 0, len(ideas))
	seen := make(map[string]struct{}, len(ideas))

	for _, idea := range ideas {
		title := strings.TrimSpace(idea.Title)
		desc := strings.TrimSpace(idea.Description)
		if title == "" || desc == "" {
			continue
		}
		if n := utf8.RuneCountInString(title); n < minTitleLen || n > maxTitleLen {
			continue
		}
		if n := utf8.RuneCountInString(desc); n < minDescriptionLen || n > maxDescriptionLen {
			continue
		}
		if looksLikeBundle(title, desc) {
			continue
		}
		key := strings.ToLower(strings.Join(strings.Fields(title), " "))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		out = append(out, ConceptIdea{
			Title:       title,
			Description: desc,
			Rationale:   strings.TrimSpace(idea.Rationale),
		})
		if len(out) == maxConcepts {
			break
		}
	}
	return out
}

// looksLikeBundle flags ideas that smuggle several topics into one
// concept: heavy conjunction use, explicit comparisons, sequence
// language, or a comma-list description.
func looksLikeBundle(title, desc string) bool {
	combined := strings.ToLower(title + " " + desc)
	if strings.Count(combined, " and ") > 3 {
		return true
	}
	if strings.Contains(combined, " vs ") || strings.Contains(combined, " vs. ") || strings.Contains(combined, " versus ") {
		return true
	}
	if countSequenceMarkers(combined) >= 2 {
		return true
	}
	return commaDense(desc)
}

var ordinalWords = map[string]struct{}{
	"first":   {},
	"second":  {},
	"third":   {},
	"fourth":  {},
	"fifth":   {},
	"lastly":  {},
	"finally": {},
}

// countSequenceMarkers counts ordinal words plus "step N" patterns in
// an already lower-cased string.
func countSequenceMarkers(s string) int {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	count := 0
	for i, w := range words {
		if _, ok := ordinalWords[w]; ok {
			count++
			continue
		}
		if w == "step" && i+1 < len(words) && isDigits(words[i+1]) {
			count++
		}
	}
	return count
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// commaDense flags descriptions that read like an enumerated list of
// sub-topics rather than prose about one idea.
func commaDense(desc string) bool {
	commas := strings.Count(desc, ",")
	if commas < 4 {
		return false
	}
	return utf8.RuneCountInString(desc)/(commas+1) < 40
}

// PrepareGeneratedPhrasings filters model output down to the phrasings
// worth persisting. existingQuestions are the concept's recent question
// texts; candidates duplicating them (or each other) case-insensitively
// are dropped. Option lists are deduplicated preserving first casing;
// after dedup a multiple-choice item needs 3-5 options, a true-false
// item exactly 2, and the correct answer must match one of them. The
// result is capped at target.
func PrepareGeneratedPhrasings(items []GeneratedPhrasing, existingQuestions []string, target int) []GeneratedPhrasing {
	if target <= 0 {
		target = 5
	}
	seen := make(map[string]struct{}, len(existingQuestions)+len(items))
	for _, q := range existingQuestions {
		seen[normalizeQuestion(q)] = struct{}{}
	}

	out := make([]GeneratedPhrasing, 0, target)
	for _, item := range items {
		question := strings.TrimSpace(item.Question)
		explanation := strings.TrimSpace(item.Explanation)
		if n := utf8.RuneCountInString(question); n < minQuestionLen || n > maxQuestionLen {
			continue
		}
		if utf8.RuneCountInString(explanation) < minExplanationLen {
			continue
		}
		key := normalizeQuestion(question)
		if _, dup := seen[key]; dup {
			continue
		}

		options := dedupOptions(item.Options)
		switch item.Type {
		case generation.PhrasingTypeMultipleChoice:
			if len(options) < minChoiceOptions || len(options) > maxChoiceOptions {
				continue
			}
		case generation.PhrasingTypeTrueFalse:
			if len(options) != 2 {
				continue
			}
		default:
			continue
		}

		correct := strings.TrimSpace(item.CorrectAnswer)
		if !matchesOption(options, correct) {
			continue
		}

		seen[key] = struct{}{}
		out = append(out, GeneratedPhrasing{
			Question:      question,
			Explanation:   explanation,
			Type:          item.Type,
			Options:       options,
			CorrectAnswer: correct,
		})
		if len(out) == target {
			break
		}
	}
	return out
}

func normalizeQuestion(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// dedupOptions trims options, drops empties, and removes
// case-insensitive duplicates keeping the first casing seen.
func dedupOptions(options []string) []string {
	out := make([]string, 0, len(options))
	seen := make(map[string]struct{}, len(options))
	for _, opt := range options {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			continue
		}
		key := strings.ToLower(opt)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, opt)
	}
	return out
}

func matchesOption(options []string, answer string) bool {
	if answer == "" {
		return false
	}
	for _, opt := range options {
		if strings.EqualFold(opt, answer) {
			return true
		}
	}
	return false
}
