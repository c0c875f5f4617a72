package pricing

import (
	"testing"

	"atelier/internal/domain"
)

func TestParseTable(t *testing.T) {
	data := []byte(`
default_cost = 5

[items]
image_edit = 10
text_edit = 2

[models.image_edit]
"atelier-edit-2" = 14

[tools]
analyze = 1
transform = 6
compare = 1
upscale = 3
`)
	table, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := table.ItemCost(domain.ItemKindImageEdit, ""); got != 10 {
		t.Fatalf("ItemCost(image_edit) = %d, want 10", got)
	}
	if got := table.ItemCost(domain.ItemKindImageEdit, "atelier-edit-2"); got != 14 {
		t.Fatalf("ItemCost(image_edit, atelier-edit-2) = %d, want model override 14", got)
	}
	if got := table.ItemCost(domain.ItemKindDesignSet, ""); got != 5 {
		t.Fatalf("ItemCost(design_set) = %d, want default 5", got)
	}
	cost, err := table.ToolCost("transform")
	if err != nil || cost != 6 {
		t.Fatalf("ToolCost(transform) = %d, %v, want 6, nil", cost, err)
	}
	if got := table.CheapestTool(); got != 1 {
		t.Fatalf("CheapestTool() = %d, want 1", got)
	}
}

func TestParseRejectsNonPositiveCosts(t *testing.T) {
	if _, err := Parse([]byte("[tools]\nanalyze = 0\n")); err == nil {
		t.Fatal("Parse with zero tool cost error = nil, want error")
	}
	if _, err := Parse([]byte("[items]\nimage_edit = -4\n")); err == nil {
		t.Fatal("Parse with negative item cost error = nil, want error")
	}
}

func TestParseFillsDefaults(t *testing.T) {
	table, err := Parse([]byte(""))
	if err != nil {
		t.Fatalf("Parse(empty) error = %v", err)
	}
	if table.DefaultCost != 8 {
		t.Fatalf("DefaultCost = %d, want 8", table.DefaultCost)
	}
	if _, err := table.ToolCost("compare"); err != nil {
		t.Fatalf("ToolCost(compare) error = %v, want default tools present", err)
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	table, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if got := table.ItemCost(domain.ItemKindTextEdit, ""); got != 2 {
		t.Fatalf("ItemCost(text_edit) = %d, want 2", got)
	}
	if got := table.ItemCost(domain.ItemKindDesignSet, ""); got != 24 {
		t.Fatalf("ItemCost(design_set) = %d, want 24", got)
	}
}

func TestToolCostUnknown(t *testing.T) {
	if _, err := Default().ToolCost("repaint"); err == nil {
		t.Fatal("ToolCost(repaint) error = nil, want error")
	}
}
