// Package chart describes chart rendering requests for the chart tool service.
package chart

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain"
)

// Type is a chart kind understood by the renderer.
type Type string

const (
	TypeBar      Type = "bar"
	TypeLine     Type = "line"
	TypePie      Type = "pie"
	TypeDoughnut Type = "doughnut"
)

// Types lists the supported chart kinds.
var Types = []Type{TypeBar, TypeLine, TypePie, TypeDoughnut}

// Request is a single-series chart. Field names follow the webhook contract.
type Request struct {
	Type   Type      `json:"tipo"`
	Title  string    `json:"titulo"`
	Labels []string  `json:"labels"`
	Values []float64 `json:"valores"`
}

// Validate checks that labels and values are present and line up.
func (r *Request) Validate() error {
	if len(r.Labels) == 0 || len(r.Values) == 0 {
		return fmt.Errorf("%w: labels and values are required", domain.ErrValidation)
	}
	if len(r.Labels) != len(r.Values) {
		return fmt.Errorf("%w: got %d labels but %d values", domain.ErrValidation, len(r.Labels), len(r.Values))
	}
	if !validType(r.Type) {
		return fmt.Errorf("%w: unknown chart type %q", domain.ErrValidation, r.Type)
	}
	return nil
}

// Series is one named data set of a comparison chart.
type Series struct {
	Name   string    `json:"nombre"`
	Values []float64 `json:"valores"`
}

// Comparison is a multi-series bar chart.
type Comparison struct {
	Title  string   `json:"titulo"`
	Labels []string `json:"labels"`
	Series []Series `json:"series"`
}

// Validate checks that labels and series are present and every series has
// one value per label.
func (c *Comparison) Validate() error {
	if len(c.Labels) == 0 || len(c.Series) == 0 {
		return fmt.Errorf("%w: labels and series are required", domain.ErrValidation)
	}
	for i, s := range c.Series {
		if len(s.Values) != len(c.Labels) {
			return fmt.Errorf("%w: series %d has %d values for %d labels", domain.ErrValidation, i+1, len(s.Values), len(c.Labels))
		}
	}
	return nil
}

var palette = []string{"#4CAF50", "#2196F3", "#FF9800", "#f44336", "#9C27B0", "#00BCD4"}

// Config returns the Chart.js configuration for the comparison.
func (c *Comparison) Config() map[string]any {
	datasets := make([]map[string]any, 0, len(c.Series))
	for i, s := range c.Series {
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("Serie %d", i+1)
		}
		color := palette[i%len(palette)]
		datasets = append(datasets, map[string]any{
			"label":           name,
			"data":            s.Values,
			"backgroundColor": color,
			"borderColor":     color,
			"borderWidth":     2,
			"fill":            false,
		})
	}
	return map[string]any{
		"type": "bar",
		"data": map[string]any{"labels": c.Labels, "datasets": datasets},
		"options": map[string]any{
			"plugins": map[string]any{
				"title":  map[string]any{"display": true, "text": c.Title, "font": map[string]any{"size": 18}},
				"legend": map[string]any{"display": true},
			},
		},
	}
}

// QuickChartURL renders the comparison as an image URL on a QuickChart
// compatible endpoint.
func (c *Comparison) QuickChartURL(base string) (string, error) {
	cfg, err := json.Marshal(c.Config())
	if err != nil {
		return "", fmt.Errorf("encode chart config: %w", err)
	}
	q := url.Values{}
	q.Set("c", string(cfg))
	q.Set("w", "600")
	q.Set("h", "400")
	q.Set("bkg", "white")
	return base + "?" + q.Encode(), nil
}

func validType(t Type) bool {
	for _, v := range Types {
		if v == t {
			return true
		}
	}
	return false
}
