// Package presenter renders controller state, service status and job history
// for the terminal.
package presenter

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/subgen/pkg/controller"
	"github.com/psantana5/subgen/pkg/models"
)

// Format is an output format for command results
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates an --output value
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", s)
	}
}

// IsTerminal reports whether w is an interactive terminal
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Printer writes command results in the selected format
type Printer struct {
	out    io.Writer
	format Format
}

// NewPrinter creates a printer writing to out
func NewPrinter(out io.Writer, format Format) *Printer {
	return &Printer{out: out, format: format}
}

// Value prints v as JSON or YAML. Table format falls back to YAML.
func (p *Printer) Value(v interface{}) error {
	if p.format == FormatJSON {
		encoder := json.NewEncoder(p.out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	}
	encoder := yaml.NewEncoder(p.out)
	encoder.SetIndent(2)
	defer encoder.Close()
	return encoder.Encode(v)
}

// State prints a controller snapshot together with its shareable address
func (p *Printer) State(st controller.State, address string) error {
	if p.format != FormatTable {
		return p.Value(struct {
			controller.State `yaml:",inline"`
			Address          string `json:"address,omitempty" yaml:"address,omitempty"`
		}{st, address})
	}

	table := tablewriter.NewWriter(p.out)
	table.Header("Field", "Value")
	table.Append("Status", Describe(st))
	if st.JobID != "" {
		table.Append("Job ID", st.JobID)
	}
	if in := st.Input.Value(); in != "" {
		table.Append("Input", in)
	}
	if st.DownloadURL != "" {
		table.Append("Download URL", st.DownloadURL)
	}
	if st.ArtifactPath != "" {
		table.Append("Saved To", st.ArtifactPath)
	}
	if st.Err != "" {
		table.Append("Error", st.Err)
	}
	if address != "" && st.JobID != "" {
		table.Append("Link", address)
	}
	return table.Render()
}

// Status prints a single service status response
func (p *Printer) Status(resp *models.StatusResponse, address string) error {
	if p.format != FormatTable {
		return p.Value(struct {
			models.StatusResponse `yaml:",inline"`
			Address               string `json:"address,omitempty" yaml:"address,omitempty"`
		}{*resp, address})
	}

	table := tablewriter.NewWriter(p.out)
	table.Header("Field", "Value")
	table.Append("Job ID", resp.JobID)
	table.Append("Status", string(resp.Status))
	if resp.DownloadURL != "" {
		table.Append("Download URL", resp.DownloadURL)
	}
	if address != "" {
		table.Append("Link", address)
	}
	return table.Render()
}

// History prints past jobs, newest first
func (p *Printer) History(jobs []*models.JobRecord) error {
	if p.format != FormatTable {
		if jobs == nil {
			jobs = []*models.JobRecord{}
		}
		return p.Value(jobs)
	}

	table := tablewriter.NewWriter(p.out)
	table.Header("Job ID", "Input", "Status", "Created", "Completed", "Error")
	for _, j := range jobs {
		completed := "-"
		if j.CompletedAt != nil {
			completed = j.CompletedAt.Local().Format("2006-01-02 15:04")
		}
		errText := "-"
		if j.Error != "" {
			errText = j.Error
		}
		table.Append(
			j.JobID,
			truncate(inputLabel(j), 48),
			string(j.Status),
			j.CreatedAt.Local().Format("2006-01-02 15:04"),
			completed,
			errText,
		)
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(p.out, "\nTotal jobs: %d\n", len(jobs))
	return err
}

// Describe returns the one-line human description of a state
func Describe(st controller.State) string {
	switch st.Status {
	case models.StatusIdle:
		return "Idle"
	case models.StatusUploading:
		return fmt.Sprintf("Uploading %d%%", st.Progress)
	case models.StatusProcessing:
		return "Processing"
	case models.StatusChecking:
		return "Checking job status"
	case models.StatusSuccess:
		if st.ArtifactPath != "" {
			return "Ready (saved)"
		}
		return "Ready"
	case models.StatusDownloading:
		return "Downloading"
	case models.StatusFail:
		return "Failed"
	default:
		return string(st.Status)
	}
}

func inputLabel(j *models.JobRecord) string {
	if j.Input == "" {
		return "-"
	}
	if j.InputKind == "" {
		return j.Input
	}
	return fmt.Sprintf("%s: %s", j.InputKind, j.Input)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
