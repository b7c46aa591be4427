package steps

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/yungbote/studyforge-backend/internal/data/repos/testutil"
)

type fakeEmbedder struct {
	mu       sync.Mutex
	calls    int
	failText string
}

func (f *fakeEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if len(inputs) == 1 && inputs[0] == f.failText {
		return nil, fmt.Errorf("dial tcp: i/o timeout")
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{float32(len(inputs[i])), 1}
	}
	return out, nil
}

func TestEmbedTextsPartialFailureKeepsSiblings(t *testing.T) {
	texts := []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta", "eta"}
	emb := &fakeEmbedder{failText: "gamma"}

	got := EmbedTexts(context.Background(), emb, texts, 5, testutil.Logger(t))
	if len(got) != len(texts) {
		t.Fatalf("expected %d results, got %d", len(texts), len(got))
	}
	for i, text := range texts {
		if text == "gamma" {
			if got[i] != nil {
				t.Fatalf("failed item must yield nil vector")
			}
			continue
		}
		if got[i] == nil {
			t.Fatalf("item %q lost its embedding to a sibling failure", text)
		}
	}
	if emb.calls != len(texts) {
		t.Fatalf("expected one call per text, got %d", emb.calls)
	}
}

func TestEmbedTextsEmpty(t *testing.T) {
	got := EmbedTexts(context.Background(), &fakeEmbedder{}, nil, 5, testutil.Logger(t))
	if len(got) != 0 {
		t.Fatalf("expected empty result, got %d", len(got))
	}
}
