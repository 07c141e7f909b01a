// Package facts implements the fact reconciliation store: confidence-floored
// ingestion of extracted facts, batch deduplication, type validation against
// the canonical taxonomy, and contradiction detection against a deal's
// current fact snapshot.
package facts

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/taxonomy"
)

// MinConfidence is the acceptance floor. Candidates below it are dropped,
// never stored: better to omit than to assert falsely.
const MinConfidence = 70

// Contradiction significance bands, in percent. Lower bounds are inclusive.
const (
	significantDeltaPct = 10.0
	majorDeltaPct       = 30.0
)

// Note records why a candidate fact was not accepted.
type Note struct {
	Key    model.FactKey `json:"key"`
	Reason string        `json:"reason"`
}

// IngestResult is the outcome of one ingestion batch.
type IngestResult struct {
	Accepted       []model.Fact          `json:"accepted"`
	Contradictions []model.Contradiction `json:"contradictions"`
	Notes          []Note                `json:"notes,omitempty"`
}

// Reconciler validates and reconciles extracted facts against the taxonomy
// and a deal's current snapshot. It is pure with respect to persistence;
// callers apply the result to storage.
type Reconciler struct {
	tax     *taxonomy.Table
	printer *message.Printer
}

// NewReconciler creates a Reconciler over the canonical taxonomy.
func NewReconciler(tax *taxonomy.Table) *Reconciler {
	return &Reconciler{
		tax:     tax,
		printer: message.NewPrinter(language.AmericanEnglish),
	}
}

// Ingest applies the acceptance rules to a batch of candidate facts:
//
//  1. Reject candidates without an evidentiary quote or with confidence
//     below MinConfidence (dropped, noted, never stored).
//  2. Reject unknown keys and values that do not match the key's declared
//     type (no silent coercion).
//  3. Deduplicate within the batch: the highest-confidence instance of a key
//     wins; discarded duplicates raise no contradiction.
//  4. Detect contradictions against the deal's current values. Intra-batch
//     duplicates never contradict; only the current snapshot does.
func (r *Reconciler) Ingest(candidates []model.Fact, existing []model.CurrentFact) (*IngestResult, error) {
	if r.tax == nil {
		return nil, eris.New("facts: reconciler has no taxonomy")
	}

	result := &IngestResult{}

	current := make(map[model.FactKey]*model.CurrentFact, len(existing))
	for i := range existing {
		current[existing[i].Key] = &existing[i]
	}

	// Validate, then dedup by key keeping the highest confidence.
	best := make(map[model.FactKey]model.Fact)
	var order []model.FactKey
	for _, cand := range candidates {
		def := r.tax.Get(cand.Key)
		if def == nil {
			result.Notes = append(result.Notes, Note{Key: cand.Key, Reason: "unknown fact key"})
			continue
		}
		if strings.TrimSpace(cand.ExtractedText) == "" {
			result.Notes = append(result.Notes, Note{Key: cand.Key, Reason: "missing evidentiary quote"})
			continue
		}
		if cand.SourceConfidence < MinConfidence {
			result.Notes = append(result.Notes, Note{
				Key:    cand.Key,
				Reason: fmt.Sprintf("confidence %d below floor %d", cand.SourceConfidence, MinConfidence),
			})
			zap.L().Debug("facts: dropped low-confidence candidate",
				zap.String("key", string(cand.Key)),
				zap.Int("confidence", cand.SourceConfidence),
			)
			continue
		}
		if err := validateValue(def, cand.Value); err != nil {
			result.Notes = append(result.Notes, Note{Key: cand.Key, Reason: err.Error()})
			continue
		}

		cand.Category = def.Category
		if cand.Unit == "" {
			cand.Unit = def.Unit
		}
		if cand.DisplayValue == "" {
			cand.DisplayValue = r.formatValue(def, cand.Value)
		}

		prev, seen := best[cand.Key]
		if !seen {
			order = append(order, cand.Key)
			best[cand.Key] = cand
			continue
		}
		if cand.SourceConfidence > prev.SourceConfidence {
			best[cand.Key] = cand
		}
	}

	// Contradictions are raised only against the deal's current value.
	for _, key := range order {
		fact := best[key]
		result.Accepted = append(result.Accepted, fact)

		cur, ok := current[key]
		if !ok {
			continue
		}
		if c := classify(r.tax.Get(key), fact, cur); c != nil {
			result.Contradictions = append(result.Contradictions, *c)
		}
	}

	return result, nil
}

// Apply folds an accepted fact into the deal's Current Fact record,
// appending the replaced state to the append-only history and flagging the
// record disputed when a contradiction annotates the replacement. A nil
// current record means this is the first accepted fact for the key.
func Apply(cur *model.CurrentFact, dealID string, fact model.Fact, c *model.Contradiction, now time.Time) *model.CurrentFact {
	if cur == nil {
		return &model.CurrentFact{
			DealID:        dealID,
			Key:           fact.Key,
			Category:      fact.Category,
			Value:         fact.Value,
			DisplayValue:  fact.DisplayValue,
			Unit:          fact.Unit,
			Source:        fact.SourceDocumentID,
			Confidence:    fact.SourceConfidence,
			FirstSeenAt:   now,
			LastUpdatedAt: now,
		}
	}

	next := *cur
	next.History = append(next.History, model.FactEvent{
		ID:            uuid.New().String(),
		Value:         cur.Value,
		DisplayValue:  cur.DisplayValue,
		Source:        cur.Source,
		Confidence:    cur.Confidence,
		RecordedAt:    now,
		Contradiction: c,
	})
	next.Value = fact.Value
	next.DisplayValue = fact.DisplayValue
	next.Unit = fact.Unit
	next.Source = fact.SourceDocumentID
	next.Confidence = fact.SourceConfidence
	if c != nil {
		next.Disputed = true
	}
	next.LastUpdatedAt = now
	return &next
}

// classify compares a new fact to the current value and grades the
// disagreement. Returns nil when the values agree.
func classify(def *taxonomy.Definition, fact model.Fact, cur *model.CurrentFact) *model.Contradiction {
	if def == nil {
		return nil
	}

	if isNumericType(def.Type) {
		newVal, okNew := toFloat(fact.Value)
		curVal, okCur := toFloat(cur.Value)
		if okNew && okCur {
			if curVal == 0 {
				if newVal == 0 {
					return nil
				}
				// Undefined delta; a zero-to-nonzero flip is always major.
				return &model.Contradiction{
					Key:            fact.Key,
					NewValue:       fact.Value,
					ExistingValue:  cur.Value,
					NewSource:      fact.SourceDocumentID,
					ExistingSource: cur.Source,
					Significance:   model.SignificanceMajor,
				}
			}
			delta := math.Abs(newVal-curVal) / math.Abs(curVal) * 100
			if delta == 0 {
				return nil
			}
			sig := model.SignificanceMinor
			switch {
			case delta > majorDeltaPct:
				sig = model.SignificanceMajor
			case delta >= significantDeltaPct:
				sig = model.SignificanceSignificant
			}
			return &model.Contradiction{
				Key:            fact.Key,
				NewValue:       fact.Value,
				ExistingValue:  cur.Value,
				NewSource:      fact.SourceDocumentID,
				ExistingSource: cur.Source,
				DeltaPercent:   &delta,
				Significance:   sig,
			}
		}
	}

	if valuesEqual(fact.Value, cur.Value) {
		return nil
	}
	// Non-numeric mismatch is always major.
	return &model.Contradiction{
		Key:            fact.Key,
		NewValue:       fact.Value,
		ExistingValue:  cur.Value,
		NewSource:      fact.SourceDocumentID,
		ExistingSource: cur.Source,
		Significance:   model.SignificanceMajor,
	}
}

func isNumericType(t model.ValueType) bool {
	switch t {
	case model.TypeCurrency, model.TypePercentage, model.TypeNumber:
		return true
	default:
		return false
	}
}

// validateValue checks a candidate value against the key's declared type.
// Mismatches are rejected as unconfirmed rather than coerced.
func validateValue(def *taxonomy.Definition, value any) error {
	if value == nil {
		return eris.Errorf("facts: %s: nil value", def.Key)
	}

	switch def.Type {
	case model.TypeCurrency, model.TypePercentage, model.TypeNumber:
		if _, ok := toFloat(value); !ok {
			return eris.Errorf("facts: %s: expected %s, got %T", def.Key, def.Type, value)
		}
	case model.TypeString:
		if _, ok := value.(string); !ok {
			return eris.Errorf("facts: %s: expected string, got %T", def.Key, value)
		}
	case model.TypeBoolean:
		if _, ok := value.(bool); !ok {
			return eris.Errorf("facts: %s: expected boolean, got %T", def.Key, value)
		}
	case model.TypeDate:
		s, ok := value.(string)
		if !ok {
			return eris.Errorf("facts: %s: expected ISO-8601 date string, got %T", def.Key, value)
		}
		if !isISODate(s) {
			return eris.Errorf("facts: %s: %q is not an ISO-8601 date", def.Key, s)
		}
	case model.TypeArray:
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return eris.Errorf("facts: %s: expected array, got %T", def.Key, value)
		}
	case model.TypeEnum:
		s, ok := value.(string)
		if !ok {
			return eris.Errorf("facts: %s: expected enum string, got %T", def.Key, value)
		}
		for _, allowed := range def.EnumValues {
			if s == allowed {
				return nil
			}
		}
		return eris.Errorf("facts: %s: %q not in enum %v", def.Key, s, def.EnumValues)
	default:
		return eris.Errorf("facts: %s: unknown value type %q", def.Key, def.Type)
	}
	return nil
}

func isISODate(s string) bool {
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// formatValue renders a locale-aware display value for facts that arrive
// without one.
func (r *Reconciler) formatValue(def *taxonomy.Definition, value any) string {
	switch def.Type {
	case model.TypeCurrency:
		if f, ok := toFloat(value); ok {
			return r.printer.Sprintf("$%.0f", f)
		}
	case model.TypePercentage:
		if f, ok := toFloat(value); ok {
			return r.printer.Sprintf("%.1f%%", f)
		}
	case model.TypeNumber:
		if f, ok := toFloat(value); ok {
			if f == math.Trunc(f) {
				return r.printer.Sprintf("%.0f", f)
			}
			return r.printer.Sprintf("%.2f", f)
		}
	}
	return fmt.Sprint(value)
}

// toFloat normalizes the numeric representations JSON decoding produces.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func valuesEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	// Tolerate string-representable equivalence for scalars.
	return fmt.Sprint(a) == fmt.Sprint(b)
}
