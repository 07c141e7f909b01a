package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/diligence-cli/internal/agent"
	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/taxonomy"
)

// Tier 0 builds shared context for every later tier: document extraction
// pulls candidate facts out of the case file, then enrichment distills a
// company profile from the same material plus the extraction output.

const extractionSystem = `You are a due-diligence analyst extracting structured facts from investment documents.
Only extract facts explicitly stated in the documents. Every fact requires a verbatim supporting quote.
Return valid JSON matching the requested schema. Omit facts you cannot support with a quote.`

const extractionPrompt = `Extract facts from the documents below. Only use keys from this taxonomy:

%s

%s

%s

Return a valid JSON object:
{"facts": [{"key": "<taxonomy key>", "value": <typed value>, "confidence": <0-100>, "quote": "<verbatim supporting text>", "document_id": "<source document id>"}]}`

// CandidateFact is one extracted fact candidate before reconciliation.
type CandidateFact struct {
	Key        string `json:"key" validate:"required"`
	Value      any    `json:"value" validate:"required"`
	Confidence int    `json:"confidence" validate:"gte=0,lte=100"`
	Quote      string `json:"quote" validate:"required"`
	DocumentID string `json:"document_id"`
}

// ExtractionPayload is the document-extraction agent's output schema.
type ExtractionPayload struct {
	Facts []CandidateFact `json:"facts" validate:"dive"`
}

// Candidates converts the payload into reconciler input.
func (p *ExtractionPayload) Candidates() []model.Fact {
	out := make([]model.Fact, 0, len(p.Facts))
	for _, f := range p.Facts {
		out = append(out, model.Fact{
			Key:              model.FactKey(f.Key),
			Value:            f.Value,
			SourceDocumentID: f.DocumentID,
			SourceConfidence: f.Confidence,
			ExtractedText:    f.Quote,
		})
	}
	return out
}

// DecodeExtraction parses a recorded document-extraction result payload.
func DecodeExtraction(data json.RawMessage) (*ExtractionPayload, error) {
	var p ExtractionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrap(err, "agents: decode extraction payload")
	}
	return &p, nil
}

type docExtraction struct {
	deps Deps
	def  model.AgentDefinition
}

func newDocExtraction(deps Deps) *docExtraction {
	return &docExtraction{
		deps: deps,
		def:  defFor(model.AgentDocExtraction, 0, model.ComplexityMedium),
	}
}

func (a *docExtraction) Definition() model.AgentDefinition { return a.def }

func (a *docExtraction) Run(ctx context.Context, ec *model.ExecContext) (*agent.Output, error) {
	tax, err := taxonomy.Load()
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(extractionPrompt,
		formatTaxonomy(tax),
		FormatDealContext(ec.Deal),
		FormatDocuments(ec.Documents),
	)

	text, usage, costUSD, err := a.deps.complete(ctx, a.def.Complexity, extractionSystem, prompt, 4096)
	if err != nil {
		return &agent.Output{Usage: usage, CostUSD: costUSD}, err
	}

	payload, err := agent.DecodeResponse[ExtractionPayload](a.def.ID, text)
	if err != nil {
		return &agent.Output{Usage: usage, CostUSD: costUSD}, err
	}

	data, err := agent.MarshalData(payload)
	if err != nil {
		return &agent.Output{Usage: usage, CostUSD: costUSD}, err
	}
	return &agent.Output{Data: data, Usage: usage, CostUSD: costUSD}, nil
}

// formatTaxonomy renders the fact-key taxonomy for the extraction prompt.
func formatTaxonomy(tax *taxonomy.Table) string {
	var b strings.Builder
	for _, def := range tax.Definitions() {
		fmt.Fprintf(&b, "- %s (%s", def.Key, def.Type)
		if def.Unit != "" {
			b.WriteString(", " + def.Unit)
		}
		if len(def.EnumValues) > 0 {
			b.WriteString(", one of: " + strings.Join(def.EnumValues, "|"))
		}
		b.WriteString(")")
		if def.Description != "" {
			b.WriteString(": " + def.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

const enrichmentSystem = `You are a due-diligence analyst building a concise company profile from investment documents.
Return valid JSON matching the requested schema. Leave out fields the documents do not support.`

const enrichmentPrompt = `Build a company profile from the material below.

%s

%s

Extracted facts:
%s

Return a valid JSON object:
{"tagline": "<one line>", "product_summary": "<2-3 sentences>", "competitors": ["<name>"], "sector_hints": ["<saas|fintech|healthcare|marketplace|deeptech|consumer|other>"], "keywords": ["<keyword>"]}`

type enrichmentPayload struct {
	Tagline        string   `json:"tagline"`
	ProductSummary string   `json:"product_summary"`
	Competitors    []string `json:"competitors"`
	SectorHints    []string `json:"sector_hints" validate:"dive,oneof=saas fintech healthcare marketplace deeptech consumer other"`
	Keywords       []string `json:"keywords"`
}

// DecodeEnrichment parses a recorded enrichment result payload.
func DecodeEnrichment(data json.RawMessage) (*model.Enrichment, error) {
	var p enrichmentPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrap(err, "agents: decode enrichment payload")
	}
	return p.toModel(), nil
}

func (p *enrichmentPayload) toModel() *model.Enrichment {
	e := &model.Enrichment{
		Tagline:        p.Tagline,
		ProductSummary: p.ProductSummary,
		Competitors:    p.Competitors,
		Keywords:       p.Keywords,
	}
	for _, h := range p.SectorHints {
		e.SectorHints = append(e.SectorHints, model.Sector(h))
	}
	return e
}

type contextEnrichment struct {
	deps Deps
	def  model.AgentDefinition
}

func newContextEnrichment(deps Deps) *contextEnrichment {
	return &contextEnrichment{
		deps: deps,
		def:  defFor(model.AgentContextEnrichment, 0, model.ComplexityLow, model.AgentDocExtraction),
	}
}

func (a *contextEnrichment) Definition() model.AgentDefinition { return a.def }

func (a *contextEnrichment) Run(ctx context.Context, ec *model.ExecContext) (*agent.Output, error) {
	extracted := "None."
	if r, ok := ec.Result(model.AgentDocExtraction); ok && r.Success {
		extracted = string(r.Data)
	}

	prompt := fmt.Sprintf(enrichmentPrompt,
		FormatDealContext(ec.Deal),
		FormatDocuments(ec.Documents),
		extracted,
	)

	text, usage, costUSD, err := a.deps.complete(ctx, a.def.Complexity, enrichmentSystem, prompt, 1024)
	if err != nil {
		return &agent.Output{Usage: usage, CostUSD: costUSD}, err
	}

	payload, err := agent.DecodeResponse[enrichmentPayload](a.def.ID, text)
	if err != nil {
		return &agent.Output{Usage: usage, CostUSD: costUSD}, err
	}

	data, err := agent.MarshalData(payload)
	if err != nil {
		return &agent.Output{Usage: usage, CostUSD: costUSD}, err
	}
	return &agent.Output{Data: data, Usage: usage, CostUSD: costUSD}, nil
}
