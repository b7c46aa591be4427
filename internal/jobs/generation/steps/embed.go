package steps

import (
	"context"
	"sync"

	"github.com/yungbote/studyforge-backend/internal/platform/llm"
	"github.com/yungbote/studyforge-backend/internal/platform/logger"
)

// EmbedTexts embeds texts in fixed-size batches, one request per text
// issued concurrently within a batch. A failed text yields a nil vector
// in the result and a log line; it never fails the batch or its
// siblings, which is why this fans out with a WaitGroup rather than an
// errgroup.
func EmbedTexts(ctx context.Context, embedder llm.Embedder, texts []string, batchSize int, log *logger.Logger) [][]float32 {
	out := make([][]float32, len(texts))
	if len(texts) == 0 || embedder == nil {
		return out
	}
	if batchSize <= 0 {
		batchSize = 5
	}

	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				vecs, err := embedder.Embed(ctx, []string{texts[i]})
				if err != nil {
					log.Warn("embedding failed, storing item without vector",
						"index", i,
						"error", err.Error(),
					)
					return
				}
				if len(vecs) == 1 {
					out[i] = vecs[0]
				}
			}(i)
		}
		wg.Wait()
	}
	return out
}
