package agents

import (
	"fmt"
	"strings"

	"github.com/sells-group/diligence-cli/internal/model"
)

// Character budgets for prompt context blocks. Documents dominate prompt
// size, so they get the bulk of the budget.
const (
	docCharBudget     = 8000
	perDocCharLimit   = 4000
	findingsCharLimit = 6000
)

// FormatDealContext renders deal metadata into a context block.
func FormatDealContext(deal model.Deal) string {
	var b strings.Builder
	b.WriteString("--- Deal ---\n")
	b.WriteString("Company: " + deal.Name + "\n")
	if deal.Sector != "" {
		b.WriteString("Sector: " + string(deal.Sector) + "\n")
	}
	if deal.Stage != "" {
		b.WriteString("Stage: " + string(deal.Stage) + "\n")
	}
	if deal.Geography != "" {
		b.WriteString("Geography: " + deal.Geography + "\n")
	}
	if deal.RoundSizeUSD > 0 {
		fmt.Fprintf(&b, "Round Size: $%.0f\n", deal.RoundSizeUSD)
	}
	if deal.ValuationUSD > 0 {
		fmt.Fprintf(&b, "Valuation: $%.0f\n", deal.ValuationUSD)
	}
	for _, f := range deal.Founders {
		line := "Founder: " + f.Name
		if f.Role != "" {
			line += " (" + f.Role + ")"
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// FormatDocuments renders document excerpts within the character budget,
// truncating individual documents before dropping later ones.
func FormatDocuments(docs []model.Document) string {
	if len(docs) == 0 {
		return "No documents provided."
	}

	var parts []string
	total := 0
	for _, d := range docs {
		remaining := docCharBudget - total
		if remaining <= 0 {
			break
		}
		content := d.ExtractedText
		limit := perDocCharLimit
		if limit > remaining {
			limit = remaining
		}
		if len(content) > limit {
			content = content[:limit]
		}
		parts = append(parts, fmt.Sprintf("--- %s (%s, id=%s) ---\n%s", d.Name, d.Type, d.ID, content))
		total += len(content)
	}
	return strings.Join(parts, "\n\n")
}

// FormatFacts renders the deal's current fact snapshot. Disputed facts are
// flagged so agents treat them with suspicion.
func FormatFacts(facts []model.CurrentFact) string {
	if len(facts) == 0 {
		return "No verified facts on record."
	}

	var b strings.Builder
	b.WriteString("--- Verified Facts ---\n")
	for _, f := range facts {
		line := fmt.Sprintf("- %s: %s (confidence %d)", f.Key, f.DisplayValue, f.Confidence)
		if f.Disputed {
			line += " [DISPUTED]"
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// FormatEnrichment renders the tier-0 enrichment block.
func FormatEnrichment(e *model.Enrichment) string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("--- Company Context ---\n")
	if e.Tagline != "" {
		b.WriteString("Tagline: " + e.Tagline + "\n")
	}
	if e.ProductSummary != "" {
		b.WriteString("Product: " + e.ProductSummary + "\n")
	}
	if len(e.Competitors) > 0 {
		b.WriteString("Known Competitors: " + strings.Join(e.Competitors, ", ") + "\n")
	}
	if len(e.Keywords) > 0 {
		b.WriteString("Keywords: " + strings.Join(e.Keywords, ", ") + "\n")
	}
	return b.String()
}

// FormatPreviousFindings renders earlier agents' summaries for synthesis
// tiers. Failed agents appear with their error so synthesis knows the gap
// exists instead of silently missing a dimension.
func FormatPreviousFindings(ec *model.ExecContext, ids []model.AgentID) string {
	var parts []string
	total := 0
	for _, id := range ids {
		r, ok := ec.Result(id)
		if !ok {
			continue
		}
		var block string
		if !r.Success {
			block = fmt.Sprintf("[%s] FAILED: %s", id, r.Error)
		} else {
			data := string(r.Data)
			if len(data) > findingsCharLimit/len(ids)+500 {
				data = data[:findingsCharLimit/len(ids)+500]
			}
			block = fmt.Sprintf("[%s]\n%s", id, data)
		}
		remaining := findingsCharLimit - total
		if remaining <= 0 {
			break
		}
		if len(block) > remaining {
			block = block[:remaining]
		}
		parts = append(parts, block)
		total += len(block)
	}
	if len(parts) == 0 {
		return "No prior findings available."
	}
	return strings.Join(parts, "\n\n")
}
