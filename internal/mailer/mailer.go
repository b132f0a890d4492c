// Package mailer sends query results and failure notices over SMTP. Sending
// happens on a background worker so delivery latency and failures never reach
// the request path.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/aravula7/agentic-rag-analytics/internal/pipeline"
)

// previewRows bounds the inline result preview in the email body.
const previewRows = 10

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// ArtifactSource fetches stored result artifacts for attachment and preview.
// Both methods are best effort and return nil on failure.
type ArtifactSource interface {
	Preview(ctx context.Context, key string, n int) [][]string
	FetchArtifact(ctx context.Context, key string) []byte
}

// Mailer composes and sends result and failure emails.
type Mailer struct {
	cfg       Config
	artifacts ArtifactSource
	log       *slog.Logger
}

// New creates a Mailer.
func New(cfg Config, artifacts ArtifactSource, log *slog.Logger) *Mailer {
	return &Mailer{cfg: cfg, artifacts: artifacts, log: log}
}

// SendResults emails the result summary for a completed query: an inline
// preview of the first rows and, when the artifact can be fetched, the full
// CSV as an attachment.
func (m *Mailer) SendResults(ctx context.Context, recipient, query string, exec *pipeline.ExecutionResult) error {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return fmt.Errorf("invalid sender %s: %w", m.cfg.From, err)
	}
	if err := msg.To(recipient); err != nil {
		return fmt.Errorf("invalid recipient %s: %w", recipient, err)
	}
	msg.Subject(fmt.Sprintf("Query results: %s", truncate(query, 60)))

	var preview [][]string
	if m.artifacts != nil {
		preview = m.artifacts.Preview(ctx, exec.CSVKey, previewRows)
	}
	msg.SetBodyString(mail.TypeTextPlain, plainBody(query, exec, preview))
	msg.AddAlternativeString(mail.TypeTextHTML, htmlBody(query, exec, preview))

	if m.artifacts != nil {
		if data := m.artifacts.FetchArtifact(ctx, exec.CSVKey); data != nil {
			if err := msg.AttachReader(filepath.Base(exec.CSVKey), bytes.NewReader(data)); err != nil && m.log != nil {
				m.log.Warn("mailer: attachment failed, sending without it", "key", exec.CSVKey, "error", err)
			}
		}
	}

	return m.send(ctx, msg)
}

// SendFailure emails a notice that the query could not be completed.
func (m *Mailer) SendFailure(ctx context.Context, recipient, query, errMsg string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return fmt.Errorf("invalid sender %s: %w", m.cfg.From, err)
	}
	if err := msg.To(recipient); err != nil {
		return fmt.Errorf("invalid recipient %s: %w", recipient, err)
	}
	msg.Subject(fmt.Sprintf("Query failed: %s", truncate(query, 60)))
	msg.SetBodyString(mail.TypeTextPlain, fmt.Sprintf(
		"Your query could not be completed.\n\nQuery: %s\n\nError: %s\n", query, errMsg))
	msg.AddAlternativeString(mail.TypeTextHTML, fmt.Sprintf(
		"<p>Your query could not be completed.</p><p><b>Query:</b> %s</p><p><b>Error:</b> %s</p>",
		html.EscapeString(query), html.EscapeString(errMsg)))
	return m.send(ctx, msg)
}

func (m *Mailer) send(ctx context.Context, msg *mail.Msg) error {
	client, err := mail.NewClient(m.cfg.Host,
		mail.WithPort(m.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.cfg.Username),
		mail.WithPassword(m.cfg.Password),
	)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}

func plainBody(query string, exec *pipeline.ExecutionResult, preview [][]string) string {
	var sb strings.Builder
	sb.WriteString("Your query results are ready.\n\n")
	sb.WriteString("Query: " + query + "\n")
	fmt.Fprintf(&sb, "Rows: %d  Columns: %d  Execution time: %.2fs\n", exec.RowCount, exec.ColumnCount, exec.ElapsedSeconds)
	sb.WriteString("Download: " + exec.CSVURL + "\n")
	if len(preview) > 1 {
		sb.WriteString("\nPreview:\n")
		for _, row := range preview {
			sb.WriteString(strings.Join(row, " | ") + "\n")
		}
		if exec.RowCount > len(preview)-1 {
			fmt.Fprintf(&sb, "... and %d more rows\n", exec.RowCount-(len(preview)-1))
		}
	}
	return sb.String()
}

func htmlBody(query string, exec *pipeline.ExecutionResult, preview [][]string) string {
	var sb strings.Builder
	sb.WriteString("<p>Your query results are ready.</p>")
	sb.WriteString("<p><b>Query:</b> " + html.EscapeString(query) + "</p>")
	fmt.Fprintf(&sb, "<p>%d rows, %d columns, %.2fs</p>", exec.RowCount, exec.ColumnCount, exec.ElapsedSeconds)
	fmt.Fprintf(&sb, `<p><a href="%s">Download full results (CSV)</a></p>`, exec.CSVURL)
	if len(preview) > 1 {
		sb.WriteString(`<table border="1" cellpadding="4" cellspacing="0"><tr>`)
		for _, col := range preview[0] {
			sb.WriteString("<th>" + html.EscapeString(col) + "</th>")
		}
		sb.WriteString("</tr>")
		for _, row := range preview[1:] {
			sb.WriteString("<tr>")
			for _, cell := range row {
				sb.WriteString("<td>" + html.EscapeString(cell) + "</td>")
			}
			sb.WriteString("</tr>")
		}
		sb.WriteString("</table>")
		if exec.RowCount > len(preview)-1 {
			fmt.Fprintf(&sb, "<p>... and %d more rows</p>", exec.RowCount-(len(preview)-1))
		}
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
