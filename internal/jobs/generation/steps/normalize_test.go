package steps

import (
	"fmt"
	"strings"
	"testing"
)

const goodDescription = "Explains how the congestion window grows during the initial phase of a TCP connection."

func idea(title, desc string) ConceptIdea {
	return ConceptIdea{Title: title, Description: desc}
}

func TestPrepareConceptIdeasDropsOutOfBounds(t *testing.T) {
	ideas := []ConceptIdea{
		idea("", goodDescription),
		idea("TCP", goodDescription), // title below 5 runes
		idea(strings.Repeat("x", 121), goodDescription),
		idea("Slow Start", "too short"),
		idea("Slow Start", strings.Repeat("y", 801)),
		idea("Slow Start", goodDescription),
	}
	got := PrepareConceptIdeas(ideas, 6)
	if len(got) != 1 {
		t.Fatalf("expected 1 surviving idea, got %d", len(got))
	}
	if got[0].Title != "Slow Start" {
		t.Fatalf("unexpected survivor %q", got[0].Title)
	}
}

func TestPrepareConceptIdeasDedupsTitlesCaseInsensitively(t *testing.T) {
	ideas := []ConceptIdea{
		idea("Slow Start", goodDescription),
		idea("slow  start", goodDescription),
		idea("SLOW START", goodDescription),
	}
	got := PrepareConceptIdeas(ideas, 6)
	if len(got) != 1 {
		t.Fatalf("expected case duplicates collapsed to 1, got %d", len(got))
	}
	if got[0].Title != "Slow Start" {
		t.Fatalf("first casing should win, got %q", got[0].Title)
	}
}

func TestPrepareConceptIdeasDropsBundles(t *testing.T) {
	cases := []struct {
		name string
		in   ConceptIdea
	}{
		{
			"sequence markers",
			idea("Setting Up TLS", "First you generate a key. Second you request a certificate. Then complete step 1) of the renewal flow."),
		},
		{
			"comparison",
			idea("TCP vs UDP", goodDescription),
		},
		{
			"conjunction heavy",
			idea("Sockets and Ports", "Sockets and ports and addresses and routes and interfaces all come together when a connection is made."),
		},
		{
			"comma dense list",
			idea("Data Structures", "Covers lists, arrays, maps, sets, queues, stacks plus the usual trade-offs between them."),
		},
	}
	for _, tc := range cases {
		if got := PrepareConceptIdeas([]ConceptIdea{tc.in}, 6); len(got) != 0 {
			t.Errorf("%s: expected bundle dropped, got %d ideas", tc.name, len(got))
		}
	}
}

func TestPrepareConceptIdeasCaps(t *testing.T) {
	ideas := make([]ConceptIdea, 0, 10)
	for i := 0; i < 10; i++ {
		ideas = append(ideas, idea(fmt.Sprintf("Concept Number %d", i), goodDescription))
	}
	if got := PrepareConceptIdeas(ideas, 6); len(got) != 6 {
		t.Fatalf("expected cap at 6, got %d", len(got))
	}
}

func phrasing(question string) GeneratedPhrasing {
	return GeneratedPhrasing{
		Question:      question,
		Explanation:   "Because the congestion window doubles every round trip.",
		Type:          "multiple-choice",
		Options:       []string{"It doubles", "It halves", "It stays flat"},
		CorrectAnswer: "It doubles",
	}
}

func TestPrepareGeneratedPhrasingsBounds(t *testing.T) {
	items := []GeneratedPhrasing{
		phrasing("Too short?"), // under 12 runes
		phrasing(strings.Repeat("q", 401)),
		phrasing("How does the window grow in slow start?"),
	}
	got := PrepareGeneratedPhrasings(items, nil, 5)
	if len(got) != 1 {
		t.Fatalf("expected 1 surviving phrasing, got %d", len(got))
	}

	short := phrasing("How does the window grow in slow start?")
	short.Explanation = "too short"
	if got := PrepareGeneratedPhrasings([]GeneratedPhrasing{short}, nil, 5); len(got) != 0 {
		t.Fatalf("expected short explanation dropped, got %d", len(got))
	}
}

func TestPrepareGeneratedPhrasingsDedupsAgainstExisting(t *testing.T) {
	existing := []string{"How does the window grow in slow start?"}
	items := []GeneratedPhrasing{
		phrasing("HOW DOES THE WINDOW GROW IN SLOW START?"),
		phrasing("What limits the congestion window?"),
		phrasing("what limits the congestion window?"),
	}
	got := PrepareGeneratedPhrasings(items, existing, 5)
	if len(got) != 1 {
		t.Fatalf("expected 1 unique phrasing, got %d", len(got))
	}
	if got[0].Question != "What limits the congestion window?" {
		t.Fatalf("unexpected survivor %q", got[0].Question)
	}
}

func TestPrepareGeneratedPhrasingsOptionRules(t *testing.T) {
	tooFew := phrasing("What happens to the congestion window?")
	tooFew.Options = []string{"It doubles", "it DOUBLES"} // dedups to 1

	tooMany := phrasing("What happens after a packet loss event?")
	tooMany.Options = []string{"a", "b", "c", "d", "e", "f"}

	badAnswer := phrasing("Which phase comes after slow start?")
	badAnswer.CorrectAnswer = "Congestion avoidance"

	trueFalseExtra := GeneratedPhrasing{
		Question:      "Slow start doubles the window each round trip?",
		Explanation:   "It doubles until the threshold is reached.",
		Type:          "true-false",
		Options:       []string{"True", "False", "Maybe"},
		CorrectAnswer: "True",
	}

	ok := GeneratedPhrasing{
		Question:      "Slow start grows the window exponentially?",
		Explanation:   "Growth is exponential until ssthresh.",
		Type:          "true-false",
		Options:       []string{"True", "False"},
		CorrectAnswer: "true",
	}

	got := PrepareGeneratedPhrasings([]GeneratedPhrasing{tooFew, tooMany, badAnswer, trueFalseExtra, ok}, nil, 5)
	if len(got) != 1 {
		t.Fatalf("expected only the valid true-false item, got %d", len(got))
	}
	if got[0].Type != "true-false" {
		t.Fatalf("unexpected survivor type %q", got[0].Type)
	}
}

func TestPrepareGeneratedPhrasingsOptionDedupPreservesFirstCasing(t *testing.T) {
	item := phrasing("What happens to the congestion window over time?")
	item.Options = []string{"It Doubles", "it doubles", "It halves", "It stays flat"}
	item.CorrectAnswer = "it doubles"

	got := PrepareGeneratedPhrasings([]GeneratedPhrasing{item}, nil, 5)
	if len(got) != 1 {
		t.Fatalf("expected item kept, got %d", len(got))
	}
	if len(got[0].Options) != 3 {
		t.Fatalf("expected 3 options after dedup, got %v", got[0].Options)
	}
	if got[0].Options[0] != "It Doubles" {
		t.Fatalf("first casing should win, got %q", got[0].Options[0])
	}
}

func TestPrepareGeneratedPhrasingsTruncatesToTarget(t *testing.T) {
	items := make([]GeneratedPhrasing, 0, 8)
	for i := 0; i < 8; i++ {
		items = append(items, phrasing(fmt.Sprintf("Question number %d about slow start?", i)))
	}
	if got := PrepareGeneratedPhrasings(items, nil, 5); len(got) != 5 {
		t.Fatalf("expected truncation to 5, got %d", len(got))
	}
}
