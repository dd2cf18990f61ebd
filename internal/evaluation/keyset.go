package evaluation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jonathan/extraction-pipeline/internal/types"
)

// KeySetEvaluator scores a result by the overlap between the identifiers it
// contains and those in the ground truth. Paths are dotted; a segment ending
// in "[]" iterates an array, e.g. "model.states[].id".
type KeySetEvaluator struct {
	Paths []string
}

// Evaluate computes precision, recall and F1. The score is F1.
func (k KeySetEvaluator) Evaluate(_ context.Context, result, truth map[string]any) (types.Accuracy, error) {
	if len(k.Paths) == 0 {
		return types.Accuracy{}, fmt.Errorf("no key paths configured")
	}

	predicted := make(map[string]bool)
	expected := make(map[string]bool)
	for _, path := range k.Paths {
		segments := strings.Split(path, ".")
		for _, v := range collect(result, segments) {
			predicted[path+"="+v] = true
		}
		for _, v := range collect(truth, segments) {
			expected[path+"="+v] = true
		}
	}
	if len(expected) == 0 {
		return types.Accuracy{}, fmt.Errorf("ground truth has no values at %s", strings.Join(k.Paths, ", "))
	}

	matched := 0
	missing := make([]string, 0)
	for key := range expected {
		if predicted[key] {
			matched++
		} else {
			missing = append(missing, key)
		}
	}
	unexpected := make([]string, 0)
	for key := range predicted {
		if !expected[key] {
			unexpected = append(unexpected, key)
		}
	}
	sort.Strings(missing)
	sort.Strings(unexpected)

	precision := 0.0
	if len(predicted) > 0 {
		precision = float64(matched) / float64(len(predicted))
	}
	recall := float64(matched) / float64(len(expected))
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}

	return types.Accuracy{
		Score: f1,
		Metrics: map[string]float64{
			"precision": precision,
			"recall":    recall,
			"f1":        f1,
		},
		Details: map[string]any{
			"matched":    matched,
			"predicted":  len(predicted),
			"expected":   len(expected),
			"missing":    missing,
			"unexpected": unexpected,
		},
	}, nil
}

// collect walks doc along segments and returns the normalized leaf values.
func collect(doc any, segments []string) []string {
	if len(segments) == 0 {
		if s := normalizeKey(doc); s != "" {
			return []string{s}
		}
		return nil
	}

	seg := segments[0]
	iterate := strings.HasSuffix(seg, "[]")
	seg = strings.TrimSuffix(seg, "[]")

	obj, ok := doc.(map[string]any)
	if !ok {
		return nil
	}
	next, ok := obj[seg]
	if !ok {
		return nil
	}
	if !iterate {
		return collect(next, segments[1:])
	}

	items, ok := next.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		out = append(out, collect(item, segments[1:])...)
	}
	return out
}

func normalizeKey(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.ToLower(strings.TrimSpace(x))
	case map[string]any, []any:
		return ""
	default:
		return strings.ToLower(fmt.Sprint(x))
	}
}
