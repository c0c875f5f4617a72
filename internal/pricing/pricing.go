// Package pricing resolves billable action costs. Costs are business
// configuration, not code: they load from a TOML table and the rest of the
// system treats lookup as a pure function of item kind plus model selection.
package pricing

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"atelier/internal/domain"
)

// Table holds per-action credit costs.
type Table struct {
	DefaultCost int64                       `toml:"default_cost"`
	Items       map[string]int64            `toml:"items"`
	Models      map[string]map[string]int64 `toml:"models"`
	Tools       map[string]int64            `toml:"tools"`
}

// Default returns the built-in cost table used when no pricing file is
// configured.
func Default() *Table {
	return &Table{
		DefaultCost: 8,
		Items: map[string]int64{
			string(domain.ItemKindImageEdit):    8,
			string(domain.ItemKindTextEdit):     2,
			string(domain.ItemKindDesignSet):    24,
			string(domain.ItemKindVideoChapter): 16,
		},
		Tools: map[string]int64{
			"analyze":   1,
			"transform": 8,
			"compare":   1,
			"upscale":   4,
		},
	}
}

// Load reads a cost table from the TOML file at path. An empty path yields
// the default table.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pricing: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a cost table from TOML bytes and validates it.
func Parse(data []byte) (*Table, error) {
	var t Table
	if err := toml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("pricing: decode table: %w", err)
	}
	if t.DefaultCost <= 0 {
		t.DefaultCost = Default().DefaultCost
	}
	if len(t.Tools) == 0 {
		t.Tools = Default().Tools
	}
	for name, cost := range t.Tools {
		if cost <= 0 {
			return nil, fmt.Errorf("pricing: tool %q has non-positive cost %d", name, cost)
		}
	}
	for kind, cost := range t.Items {
		if cost <= 0 {
			return nil, fmt.Errorf("pricing: item %q has non-positive cost %d", kind, cost)
		}
	}
	return &t, nil
}

// ItemCost returns the unit cost for a work item kind under the selected
// model. Model-specific overrides win over the per-kind cost, which wins over
// the table default.
func (t *Table) ItemCost(kind domain.ItemKind, model string) int64 {
	if overrides, ok := t.Models[string(kind)]; ok {
		if cost, ok := overrides[model]; ok {
			return cost
		}
	}
	if cost, ok := t.Items[string(kind)]; ok {
		return cost
	}
	return t.DefaultCost
}

// ToolCost returns the cost of a single agent tool invocation.
func (t *Table) ToolCost(name string) (int64, error) {
	cost, ok := t.Tools[name]
	if !ok {
		return 0, fmt.Errorf("pricing: unknown tool %q", name)
	}
	return cost, nil
}

// CheapestTool returns the lowest tool cost in the table. The agent loop uses
// it as the affordability floor before starting another iteration.
func (t *Table) CheapestTool() int64 {
	var min int64
	for _, cost := range t.Tools {
		if min == 0 || cost < min {
			min = cost
		}
	}
	if min == 0 {
		min = t.DefaultCost
	}
	return min
}
