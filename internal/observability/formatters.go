// Package observability provides formatted job output for the operator CLI.
package observability

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/jonathan/seo-workflows/internal/artifacts"
	"github.com/jonathan/seo-workflows/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxTitleLen bounds the title column of the jobs table
	maxTitleLen = 40
)

// Printer handles formatted output for the jobs command
type Printer struct {
	out io.Writer
	now func() time.Time
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out, now: time.Now}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func (p *Printer) render(tw table.Writer) {
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Footer = text.FormatDefault
	tw.SetOutputMirror(p.out)
	tw.Render()
}

// PrintJobs renders a table of jobs, newest first as given
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintJobs(jobs []*types.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(p.out, "No jobs found.")
		return
	}

	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Job", "Pipeline", "Status", "Progress", "Keyword", "Title", "Files", "Created"})
	for _, job := range jobs {
		tw.AppendRow(table.Row{
			job.ID.String()[:8],
			job.PipelineType,
			job.Status,
			fmt.Sprintf("%d/%d %3d%%", job.CurrentStep, job.TotalSteps, job.Progress),
			truncate(job.Keyword, maxTitleLen),
			truncate(job.Title, maxTitleLen),
			fmt.Sprintf("%d (%s)", job.FilesCount, humanize.Bytes(uint64(job.TotalSizeBytes))),
			humanize.RelTime(job.CreatedAt, p.now(), "ago", "from now"),
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 7, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	p.render(tw)
}

func stepMarker(s types.StepStatus) string {
	switch s {
	case types.StepStatusCompleted:
		return "✓"
	case types.StepStatusFailed:
		return "✗"
	case types.StepStatusInProgress:
		return "…"
	default:
		return " "
	}
}

// PrintJob outputs the detail view of one job including its steps
func (p *Printer) PrintJob(job *types.Job) {
	if job == nil {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "ID:        %s\n", job.ID)
	fmt.Fprintf(&sb, "Pipeline:  %s\n", job.PipelineType)
	fmt.Fprintf(&sb, "Status:    %s (%d%%)\n", job.Status, job.Progress)
	if job.Keyword != "" {
		fmt.Fprintf(&sb, "Keyword:   %s\n", job.Keyword)
	}
	if job.Title != "" {
		fmt.Fprintf(&sb, "Title:     %s\n", job.Title)
	}
	if job.ParentJobID != nil {
		fmt.Fprintf(&sb, "Retry of:  %s\n", *job.ParentJobID)
		fmt.Fprintf(&sb, "Attempt:   %d\n", job.RetryCount+1)
	}
	fmt.Fprintf(&sb, "Created:   %s\n", humanize.RelTime(job.CreatedAt, p.now(), "ago", "from now"))
	if job.GenerationSeconds > 0 {
		fmt.Fprintf(&sb, "Took:      %.1fs\n", job.GenerationSeconds)
	}
	if job.Usage.APICalls > 0 {
		fmt.Fprintf(&sb, "Usage:     %s tokens, %d calls, $%.4f\n",
			humanize.Comma(int64(job.Usage.TokensUsed)), job.Usage.APICalls, job.Usage.CostUSD)
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(&sb, "Error:     [%s] %s\n", job.ErrorCode, job.ErrorMessage)
	}

	sb.WriteString("\nSteps:\n")
	for i, step := range job.Steps {
		fmt.Fprintf(&sb, "  %s %d. %s", stepMarker(step.Status), i+1, step.Name)
		if step.ElapsedMs > 0 {
			fmt.Fprintf(&sb, " (%s)", time.Duration(step.ElapsedMs)*time.Millisecond)
		}
		sb.WriteString("\n")
		for _, b := range step.Branches {
			fmt.Fprintf(&sb, "      %s branch %d", stepMarker(b.Status), b.Index)
			if b.Error != "" {
				fmt.Fprintf(&sb, ": %s", b.Error)
			}
			sb.WriteString("\n")
		}
	}

	p.printBox("JOB "+strings.ToUpper(string(job.PipelineType)), strings.TrimSuffix(sb.String(), "\n"))
}

// PrintFiles renders the artifacts of a job
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintFiles(files []artifacts.FileInfo) {
	if len(files) == 0 {
		fmt.Fprintln(p.out, "No files published.")
		return
	}

	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"File", "Type", "Label", "Size"})
	var total int64
	for _, f := range files {
		name := f.Filename
		if f.Compressed {
			name += " (gz)"
		}
		tw.AppendRow(table.Row{name, f.Type, f.Label, humanize.Bytes(uint64(f.Size))})
		total += f.Size
	}
	tw.AppendFooter(table.Row{"", "", "Total", humanize.Bytes(uint64(total))})
	tw.SetColumnConfigs([]table.ColumnConfig{{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignLeft}})
	p.render(tw)
}
