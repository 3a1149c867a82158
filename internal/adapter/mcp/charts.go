package mcp

import (
	"context"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/chart"
)

// DefaultQuickChartURL renders comparison charts.
const DefaultQuickChartURL = "https://quickchart.io/chart"

// ChartRenderer turns a single-series chart into an image URL.
type ChartRenderer interface {
	Render(ctx context.Context, req chart.Request) (string, error)
}

// ChartTools returns the chart generation tools. Single-series charts go
// through renderer; comparison charts are encoded as a QuickChart URL.
func ChartTools(renderer ChartRenderer, quickChartURL string) []mcpserver.ServerTool {
	if quickChartURL == "" {
		quickChartURL = DefaultQuickChartURL
	}
	h := &chartHandlers{renderer: renderer, quickChartURL: quickChartURL}

	chartTypes := make([]string, len(chart.Types))
	for i, t := range chart.Types {
		chartTypes[i] = string(t)
	}

	return []mcpserver.ServerTool{
		{
			Tool: mcplib.NewTool("generate_chart",
				mcplib.WithDescription("Generate a bar, line, pie or doughnut chart and return its image URL. "+
					"Use it to visualize sales, ad spend, orders or any metric."),
				mcplib.WithString("tipo",
					mcplib.Required(),
					mcplib.Description("Chart type"),
					mcplib.Enum(chartTypes...),
				),
				mcplib.WithString("titulo",
					mcplib.Required(),
					mcplib.Description("Chart title, e.g. 'Sales last 7 days'"),
				),
				mcplib.WithArray("labels",
					mcplib.Required(),
					mcplib.Description("X axis labels, e.g. ['Mon', 'Tue', 'Wed']"),
					mcplib.Items(map[string]any{"type": "string"}),
				),
				mcplib.WithArray("valores",
					mcplib.Required(),
					mcplib.Description("Numeric values, one per label"),
					mcplib.Items(map[string]any{"type": "number"}),
				),
			),
			Handler: h.generateChart,
		},
		{
			Tool: mcplib.NewTool("generate_comparison_chart",
				mcplib.WithDescription("Generate a bar chart comparing several data series, "+
					"e.g. sales versus ad spend or this month versus last month."),
				mcplib.WithString("titulo",
					mcplib.Required(),
					mcplib.Description("Chart title"),
				),
				mcplib.WithArray("labels",
					mcplib.Required(),
					mcplib.Description("Shared X axis labels"),
					mcplib.Items(map[string]any{"type": "string"}),
				),
				mcplib.WithArray("series",
					mcplib.Required(),
					mcplib.Description("Data series, each with a name and one value per label"),
					mcplib.Items(map[string]any{
						"type": "object",
						"properties": map[string]any{
							"nombre":  map[string]any{"type": "string"},
							"valores": map[string]any{"type": "array", "items": map[string]any{"type": "number"}},
						},
						"required": []string{"valores"},
					}),
				),
			),
			Handler: h.generateComparison,
		},
	}
}

type chartHandlers struct {
	renderer      ChartRenderer
	quickChartURL string
}

func (h *chartHandlers) generateChart(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	cr := chart.Request{
		Type:   chart.Type(stringArg(args, "tipo")),
		Title:  stringArg(args, "titulo"),
		Labels: stringsArg(args, "labels"),
		Values: floatsArg(args, "valores"),
	}
	if err := cr.Validate(); err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	if h.renderer == nil {
		return mcplib.NewToolResultError("chart webhook not configured"), nil
	}

	imageURL, err := h.renderer.Render(ctx, cr)
	if err != nil {
		slog.Warn("chart render failed", "type", cr.Type, "error", err)
		return mcplib.NewToolResultErrorFromErr("could not generate chart", err), nil
	}
	text := fmt.Sprintf("Chart generated: %s\nImage URL: %s", cr.Title, imageURL)
	return imageResult(text, imageURL, string(cr.Type)), nil
}

func (h *chartHandlers) generateComparison(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	cmp := chart.Comparison{
		Title:  stringArg(args, "titulo"),
		Labels: stringsArg(args, "labels"),
	}
	if raw, ok := args["series"].([]any); ok {
		for _, item := range raw {
			m, _ := item.(map[string]any)
			cmp.Series = append(cmp.Series, chart.Series{
				Name:   stringArg(m, "nombre"),
				Values: floatsArg(m, "valores"),
			})
		}
	}
	if err := cmp.Validate(); err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}

	imageURL, err := cmp.QuickChartURL(h.quickChartURL)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("could not generate chart", err), nil
	}
	text := fmt.Sprintf("Comparison chart generated: %s\nImage URL: %s", cmp.Title, imageURL)
	return imageResult(text, imageURL, "comparison"), nil
}

func imageResult(text, imageURL, kind string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content:           []mcplib.Content{mcplib.NewTextContent(text)},
		StructuredContent: map[string]any{"image_url": imageURL, "chart_type": kind},
	}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func stringsArg(args map[string]any, key string) []string {
	raw, _ := args[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		out = append(out, fmt.Sprint(v))
	}
	return out
}

// floatsArg accepts JSON numbers. Non-numeric entries are skipped, which
// surfaces as a length mismatch during validation.
func floatsArg(args map[string]any, key string) []float64 {
	raw, _ := args[key].([]any)
	out := make([]float64, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case float64:
			out = append(out, n)
		case int:
			out = append(out, float64(n))
		}
	}
	return out
}
