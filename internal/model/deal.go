package model

import "time"

// Sector classifies a deal's primary business sector. Tier 3 specialist
// selection keys off this value.
type Sector string

const (
	SectorSaaS        Sector = "saas"
	SectorFintech     Sector = "fintech"
	SectorHealthcare  Sector = "healthcare"
	SectorMarketplace Sector = "marketplace"
	SectorDeepTech    Sector = "deeptech"
	SectorConsumer    Sector = "consumer"
	SectorOther       Sector = "other"
)

// Stage is the funding stage of a deal.
type Stage string

const (
	StagePreSeed Stage = "pre_seed"
	StageSeed    Stage = "seed"
	StageSeriesA Stage = "series_a"
	StageSeriesB Stage = "series_b"
	StageGrowth  Stage = "growth"
)

// DocumentType categorizes a case-file document.
type DocumentType string

const (
	DocTypePitchDeck  DocumentType = "pitch_deck"
	DocTypeFinancials DocumentType = "financials"
	DocTypeCapTable   DocumentType = "cap_table"
	DocTypeLegal      DocumentType = "legal"
	DocTypeMemo       DocumentType = "memo"
	DocTypeOther      DocumentType = "other"
)

// Document is one case-file document with pre-extracted text. Text extraction
// (PDF/Excel parsing) happens upstream; the pipeline only ever sees the result.
type Document struct {
	ID            string       `json:"id"`
	Type          DocumentType `json:"type"`
	Name          string       `json:"name"`
	ExtractedText string       `json:"extracted_text"`
}

// Founder is a member of the founding team as provided by deal metadata.
type Founder struct {
	Name       string `json:"name"`
	Role       string `json:"role"`
	Background string `json:"background,omitempty"`
	LinkedIn   string `json:"linkedin,omitempty"`
}

// Deal is the metadata for one investment opportunity under analysis.
type Deal struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	OrgID        string    `json:"org_id"`
	Sector       Sector    `json:"sector"`
	Stage        Stage     `json:"stage"`
	Geography    string    `json:"geography,omitempty"`
	RoundSizeUSD float64   `json:"round_size_usd,omitempty"`
	ValuationUSD float64   `json:"valuation_usd,omitempty"`
	Founders     []Founder `json:"founders,omitempty"`
	NotionPageID string    `json:"notion_page_id,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}
