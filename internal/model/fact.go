package model

import "time"

// FactKey is a canonical key from the fixed fact taxonomy.
type FactKey string

// FactCategory groups fact keys by domain.
type FactCategory string

const (
	CategoryFinancial FactCategory = "financial"
	CategoryMarket    FactCategory = "market"
	CategoryTeam      FactCategory = "team"
	CategoryTraction  FactCategory = "traction"
	CategoryLegal     FactCategory = "legal"
	CategoryProduct   FactCategory = "product"
)

// ValueType fixes the expected Go representation for a fact key's value.
type ValueType string

const (
	TypeCurrency   ValueType = "currency"
	TypePercentage ValueType = "percentage"
	TypeNumber     ValueType = "number"
	TypeString     ValueType = "string"
	TypeDate       ValueType = "date"
	TypeBoolean    ValueType = "boolean"
	TypeArray      ValueType = "array"
	TypeEnum       ValueType = "enum"
)

// Fact is a single confidence-scored, evidence-backed data point extracted
// from a source document. A Fact is never accepted without both a numeric
// confidence and an evidentiary quote; corrections produce a new Fact, never
// a mutation.
type Fact struct {
	Key              FactKey      `json:"key"`
	Category         FactCategory `json:"category"`
	Value            any          `json:"value"`
	DisplayValue     string       `json:"display_value"`
	Unit             string       `json:"unit,omitempty"`
	SourceDocumentID string       `json:"source_document_id"`
	SourceConfidence int          `json:"source_confidence"`
	ExtractedText    string       `json:"extracted_text"`
}

// Significance grades a contradiction by the magnitude of disagreement.
type Significance string

const (
	SignificanceMinor       Significance = "MINOR"
	SignificanceSignificant Significance = "SIGNIFICANT"
	SignificanceMajor       Significance = "MAJOR"
)

// Contradiction records a mismatch between a newly extracted fact and the
// deal's current value for that key. It annotates the fact event it was
// detected on; it is not stored independently.
type Contradiction struct {
	Key            FactKey      `json:"key"`
	NewValue       any          `json:"new_value"`
	ExistingValue  any          `json:"existing_value"`
	NewSource      string       `json:"new_source"`
	ExistingSource string       `json:"existing_source"`
	DeltaPercent   *float64     `json:"delta_percent,omitempty"`
	Significance   Significance `json:"significance"`
}

// FactEvent is one entry in a Current Fact's append-only history: the state
// that was replaced, plus any contradiction detected at replacement time.
type FactEvent struct {
	ID            string         `json:"id"`
	Value         any            `json:"value"`
	DisplayValue  string         `json:"display_value,omitempty"`
	Source        string         `json:"source"`
	Confidence    int            `json:"confidence"`
	RecordedAt    time.Time      `json:"recorded_at"`
	Contradiction *Contradiction `json:"contradiction,omitempty"`
}

// CurrentFact is the deal's latest reconciled value for one fact key. It is
// created on the first accepted Fact for the key and never deleted; every
// replacement appends the prior state to History, so the factual record is
// always reconstructible.
type CurrentFact struct {
	DealID        string       `json:"deal_id"`
	Key           FactKey      `json:"key"`
	Category      FactCategory `json:"category,omitempty"`
	Value         any         `json:"value"`
	DisplayValue  string      `json:"display_value,omitempty"`
	Unit          string      `json:"unit,omitempty"`
	Source        string      `json:"source"`
	Confidence    int         `json:"confidence"`
	Disputed      bool        `json:"disputed"`
	History       []FactEvent `json:"history,omitempty"`
	FirstSeenAt   time.Time   `json:"first_seen_at"`
	LastUpdatedAt time.Time   `json:"last_updated_at"`
}
