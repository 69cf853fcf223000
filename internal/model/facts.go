package model

import (
	"sort"

	"github.com/shopspring/decimal"
)

// LineItem names a normalized financial statement entry.
type LineItem string

const (
	ItemRevenue            LineItem = "revenue"
	ItemNetResult          LineItem = "net_result"
	ItemEBITDA             LineItem = "ebitda"
	ItemSelfFinancing      LineItem = "self_financing"
	ItemTotalAssets        LineItem = "total_assets"
	ItemCurrentAssets      LineItem = "current_assets"
	ItemInventory          LineItem = "inventory"
	ItemReceivables        LineItem = "receivables"
	ItemCash               LineItem = "cash"
	ItemTotalLiabilities   LineItem = "total_liabilities"
	ItemEquity             LineItem = "equity"
	ItemFinancialDebt      LineItem = "financial_debt"
	ItemCurrentLiabilities LineItem = "current_liabilities"
	ItemPayables           LineItem = "payables"
)

// LineItems lists every known line item in statement order.
var LineItems = []LineItem{
	ItemRevenue, ItemNetResult, ItemEBITDA, ItemSelfFinancing,
	ItemTotalAssets, ItemCurrentAssets, ItemInventory, ItemReceivables, ItemCash,
	ItemTotalLiabilities, ItemEquity, ItemFinancialDebt, ItemCurrentLiabilities, ItemPayables,
}

// YearFacts holds the line items extracted for one fiscal year. A missing
// key means the item could not be extracted, which is not the same as zero.
type YearFacts map[LineItem]decimal.Decimal

// Get returns the value of item and whether it is present.
func (y YearFacts) Get(item LineItem) (decimal.Decimal, bool) {
	v, ok := y[item]
	return v, ok
}

// FinancialFacts maps fiscal years to their normalized line items. A new
// pipeline run replaces it entirely.
type FinancialFacts struct {
	Years map[int]YearFacts `json:"years"`
}

// NewFinancialFacts returns empty facts ready for merging.
func NewFinancialFacts() FinancialFacts {
	return FinancialFacts{Years: make(map[int]YearFacts)}
}

// Empty reports whether no fiscal year carries any line item.
func (f FinancialFacts) Empty() bool {
	for _, y := range f.Years {
		if len(y) > 0 {
			return false
		}
	}
	return true
}

// SortedYears returns the fiscal years with at least one item, most recent first.
func (f FinancialFacts) SortedYears() []int {
	years := make([]int, 0, len(f.Years))
	for y, items := range f.Years {
		if len(items) > 0 {
			years = append(years, y)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(years)))
	return years
}

// Latest returns the most recent fiscal year and its facts.
func (f FinancialFacts) Latest() (int, YearFacts, bool) {
	years := f.SortedYears()
	if len(years) == 0 {
		return 0, nil, false
	}
	return years[0], f.Years[years[0]], true
}

// Value returns the value of item for year.
func (f FinancialFacts) Value(year int, item LineItem) (decimal.Decimal, bool) {
	y, ok := f.Years[year]
	if !ok {
		return decimal.Zero, false
	}
	return y.Get(item)
}

// Merge copies items from other that are not already present. Earlier
// merges win so the result depends only on merge order.
func (f *FinancialFacts) Merge(other FinancialFacts, allowed func(year int) bool) {
	if f.Years == nil {
		f.Years = make(map[int]YearFacts)
	}
	for year, items := range other.Years {
		if allowed != nil && !allowed(year) {
			continue
		}
		dst, ok := f.Years[year]
		if !ok {
			dst = make(YearFacts, len(items))
			f.Years[year] = dst
		}
		for item, v := range items {
			if _, exists := dst[item]; !exists {
				dst[item] = v
			}
		}
	}
}

// DocumentFacts is the extraction output for a single document.
type DocumentFacts struct {
	DocumentID string         `json:"document_id"`
	Facts      FinancialFacts `json:"facts"`
	Pages      int            `json:"pages,omitempty"`
	TokenUsage TokenUsage     `json:"token_usage"`
}

// TokenUsage tracks provider consumption for cost attribution.
type TokenUsage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Queries      int     `json:"queries,omitempty"`
	Pages        int     `json:"pages,omitempty"`
	Cost         float64 `json:"cost"`
}

// Add merges token usage from another instance.
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.Queries += other.Queries
	t.Pages += other.Pages
	t.Cost += other.Cost
}
