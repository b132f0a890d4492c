package mailer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aravula7/agentic-rag-analytics/internal/pipeline"
)

func sampleExec() *pipeline.ExecutionResult {
	return &pipeline.ExecutionResult{
		RowCount:       42,
		ColumnCount:    2,
		ElapsedSeconds: 1.25,
		Columns:        []string{"id", "name"},
		CSVKey:         "reports/2026/08/27/query_x.csv",
		CSVURL:         "https://bucket/reports/2026/08/27/query_x.csv",
	}
}

func TestPlainBodyIncludesSummaryAndPreview(t *testing.T) {
	preview := [][]string{
		{"id", "name"},
		{"1", "alpha"},
		{"2", "beta"},
	}
	body := plainBody("top customers", sampleExec(), preview)

	assert.Contains(t, body, "Query: top customers")
	assert.Contains(t, body, "Rows: 42")
	assert.Contains(t, body, "https://bucket/reports/2026/08/27/query_x.csv")
	assert.Contains(t, body, "1 | alpha")
	assert.Contains(t, body, "... and 40 more rows")
}

func TestPlainBodyWithoutPreview(t *testing.T) {
	body := plainBody("top customers", sampleExec(), nil)

	assert.Contains(t, body, "Rows: 42")
	assert.NotContains(t, body, "Preview:")
}

func TestHTMLBodyEscapesContent(t *testing.T) {
	preview := [][]string{
		{"name"},
		{"<script>alert(1)</script>"},
	}
	body := htmlBody(`question with <tags> & "quotes"`, sampleExec(), preview)

	assert.Contains(t, body, "&lt;tags&gt;")
	assert.Contains(t, body, "&lt;script&gt;")
	assert.NotContains(t, body, "<script>alert")
	assert.Contains(t, body, `<a href="https://bucket/reports/2026/08/27/query_x.csv">`)
}

func TestHTMLBodyRendersPreviewTable(t *testing.T) {
	preview := [][]string{
		{"id", "name"},
		{"1", "alpha"},
	}
	body := htmlBody("q", sampleExec(), preview)

	assert.Contains(t, body, "<th>id</th>")
	assert.Contains(t, body, "<td>alpha</td>")
	assert.Equal(t, 1, strings.Count(body, "<table"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "0123456789...", truncate("0123456789abcdef", 10))
}

func TestWorkerDropsWhenQueueFull(t *testing.T) {
	// The worker is not started, so nothing drains the queue.
	w := NewWorker(New(Config{From: "noreply@example.com"}, nil, nil), 1, nil)

	w.DeliverResults("a@example.com", "q1", sampleExec())
	w.DeliverResults("b@example.com", "q2", sampleExec())

	assert.Len(t, w.tasks, 1, "second delivery should be dropped, not queued")
}
