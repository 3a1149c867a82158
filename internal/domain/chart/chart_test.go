package chart

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain"
)

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name   string
		req    Request
		errMsg string
	}{
		{"valid", Request{Type: TypeBar, Title: "Ventas", Labels: []string{"Lun", "Mar"}, Values: []float64{1, 2}}, ""},
		{"no labels", Request{Type: TypeBar, Values: []float64{1}}, "labels and values are required"},
		{"no values", Request{Type: TypePie, Labels: []string{"a"}}, "labels and values are required"},
		{"length mismatch", Request{Type: TypeLine, Labels: []string{"a", "b"}, Values: []float64{1}}, "2 labels but 1 values"},
		{"unknown type", Request{Type: "radar", Labels: []string{"a"}, Values: []float64{1}}, "unknown chart type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.errMsg == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, domain.ErrValidation) || !strings.Contains(err.Error(), tt.errMsg) {
				t.Fatalf("expected validation error containing %q, got %v", tt.errMsg, err)
			}
		})
	}
}

func TestComparisonValidate(t *testing.T) {
	ok := Comparison{Title: "Ventas vs Gastos", Labels: []string{"Ene", "Feb"}, Series: []Series{{Name: "Ventas", Values: []float64{10, 20}}}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := Comparison{Labels: []string{"Ene", "Feb"}, Series: []Series{{Name: "Ventas", Values: []float64{10}}}}
	if err := bad.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	empty := Comparison{Title: "x"}
	if err := empty.Validate(); err == nil {
		t.Fatal("expected error for empty comparison")
	}
}

func TestComparisonQuickChartURL(t *testing.T) {
	c := Comparison{
		Title:  "Este mes vs anterior",
		Labels: []string{"S1", "S2"},
		Series: []Series{{Name: "Actual", Values: []float64{5, 7}}, {Values: []float64{3, 4}}},
	}
	raw, err := c.QuickChartURL("https://quickchart.io/chart")
	if err != nil {
		t.Fatalf("QuickChartURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("invalid url: %v", err)
	}
	if u.Query().Get("w") != "600" || u.Query().Get("bkg") != "white" {
		t.Errorf("missing size params: %s", raw)
	}

	var cfg struct {
		Data struct {
			Datasets []struct {
				Label string `json:"label"`
			} `json:"datasets"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(u.Query().Get("c")), &cfg); err != nil {
		t.Fatalf("config not JSON: %v", err)
	}
	if len(cfg.Data.Datasets) != 2 || cfg.Data.Datasets[1].Label != "Serie 2" {
		t.Errorf("unexpected datasets %+v", cfg.Data.Datasets)
	}
}
