package retrieval

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/go-logr/logr"

	"docqa/src/core/index"
	"docqa/src/core/rag"
)

const maxGoldenLine = 4 * 1024 * 1024

// Span is a rune range [Start, End) of the ingested document, written as a [start, end] pair.
type Span struct {
	Start int
	End   int
}

func (s *Span) UnmarshalJSON(data []byte) error {
	var pair []int
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("span must have exactly 2 elements")
	}
	if pair[0] < 0 || pair[1] <= pair[0] {
		return fmt.Errorf("invalid span [%d, %d]", pair[0], pair[1])
	}
	s.Start, s.End = pair[0], pair[1]
	return nil
}

func (s Span) overlaps(c rag.Chunk) bool {
	return c.Start < s.End && s.Start < c.End
}

// GoldenQuery is one line of a golden set: a query and the spans that answer it.
type GoldenQuery struct {
	Query  string `json:"query"`
	Golden []Span `json:"golden_spans"`
}

type EvalReport struct {
	K         int     `json:"k"`
	Evaluated int     `json:"evaluated"`
	Skipped   int     `json:"skipped"`
	Recall    float64 `json:"recall"`
}

// Evaluate reads a JSONL golden set and reports the mean recall@k: for each query, the share of
// golden spans overlapped by at least one retrieved chunk. Malformed lines and failed lookups are
// skipped.
func (r *Retriever) Evaluate(ctx context.Context, logger logr.Logger, idx index.Index, golden io.Reader, k int) (*EvalReport, error) {
	if k <= 0 {
		k = r.topK
	}
	report := &EvalReport{K: k}

	scanner := bufio.NewScanner(golden)
	scanner.Buffer(make([]byte, 0, 64*1024), maxGoldenLine)

	var total float64
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}

		var q GoldenQuery
		if err := json.Unmarshal(scanner.Bytes(), &q); err != nil || q.Query == "" || len(q.Golden) == 0 {
			logger.Info("skipping golden line", "line", line, "error", err)
			report.Skipped++
			continue
		}

		results, err := r.Retrieve(ctx, idx, q.Query, k)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Error(err, "retrieval failed", "line", line)
			report.Skipped++
			continue
		}

		hits := 0
		for _, span := range q.Golden {
			for _, res := range results {
				if span.overlaps(res.Chunk) {
					hits++
					break
				}
			}
		}
		total += float64(hits) / float64(len(q.Golden))
		report.Evaluated++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read golden set: %w", err)
	}

	if report.Evaluated > 0 {
		report.Recall = total / float64(report.Evaluated)
	}
	return report, nil
}
