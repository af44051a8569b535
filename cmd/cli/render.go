package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"fingenie/internal/domain"
)

const previewRows = 20

func renderPreview(w io.Writer, p domain.Preview, limit int) {
	if p.Len() == 0 {
		fmt.Fprintln(w, "(no rows)")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(p.Columns, "\t"))
	shown := p.Len()
	if limit > 0 && shown > limit {
		shown = limit
	}
	cells := make([]string, len(p.Columns))
	for i := 0; i < shown; i++ {
		for j, col := range p.Columns {
			v, ok := p.Value(i, col)
			switch {
			case !ok || v == nil:
				cells[j] = ""
			default:
				cells[j] = fmt.Sprint(v)
			}
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	_ = tw.Flush()
	if rest := p.Len() - shown; rest > 0 {
		fmt.Fprintf(w, "(%d more rows)\n", rest)
	}
}

// writeChart decodes chart into dir and returns the written path.
func writeChart(dir, id string, chart domain.Chart) (string, error) {
	img, err := chart.Decode()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create chart dir: %w", err)
	}
	path := filepath.Join(dir, "chart-"+id+chartExt(chart.MediaType()))
	if err := os.WriteFile(path, img, 0o644); err != nil {
		return "", fmt.Errorf("write chart: %w", err)
	}
	return path, nil
}

func chartExt(mediaType string) string {
	switch mediaType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/svg+xml":
		return ".svg"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}
