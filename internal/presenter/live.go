package presenter

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/psantana5/subgen/pkg/controller"
	"github.com/psantana5/subgen/pkg/models"
)

const barWidth = 30

// Live renders state changes as they happen. On a terminal the upload progress
// bar is redrawn in place; otherwise one line is written per status change.
type Live struct {
	out         io.Writer
	interactive bool

	mu    sync.Mutex
	last  models.JobStatus
	inBar bool
}

// NewLive creates a live renderer. interactive enables in-place redraws.
func NewLive(out io.Writer, interactive bool) *Live {
	return &Live{out: out, interactive: interactive}
}

// Observe is a controller.Observer
func (l *Live) Observe(st controller.State) {
	l.mu.Lock()
	defer l.mu.Unlock()

	changed := st.Status != l.last
	l.last = st.Status

	if st.Status == models.StatusUploading {
		if l.interactive {
			fmt.Fprintf(l.out, "\r%s", progressBar(st.Progress))
			l.inBar = true
			return
		}
		// Non-interactive output only reports the start of the upload
		if !changed {
			return
		}
	} else if !changed {
		return
	}

	if l.inBar {
		if st.Status == models.StatusProcessing {
			fmt.Fprintf(l.out, "\r%s", progressBar(100))
		}
		fmt.Fprintln(l.out)
		l.inBar = false
	}

	if line := l.line(st); line != "" {
		fmt.Fprintln(l.out, line)
	}
}

// Finish terminates a pending progress bar line
func (l *Live) Finish() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inBar {
		fmt.Fprintln(l.out)
		l.inBar = false
	}
}

func (l *Live) line(st controller.State) string {
	switch st.Status {
	case models.StatusUploading:
		return fmt.Sprintf("Uploading %s", st.Input.Value())
	case models.StatusProcessing:
		return "Processing... this can take a few minutes"
	case models.StatusChecking:
		return fmt.Sprintf("Checking status of job %s", st.JobID)
	case models.StatusSuccess:
		if st.ArtifactPath != "" {
			return fmt.Sprintf("Saved to %s", st.ArtifactPath)
		}
		return fmt.Sprintf("Your subtitles are ready: %s", st.DownloadURL)
	case models.StatusDownloading:
		return "Downloading..."
	case models.StatusFail:
		if st.Err != "" {
			return "Error: " + st.Err
		}
		return "Error: the job failed"
	default:
		return ""
	}
}

func progressBar(percent int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * barWidth / 100
	return fmt.Sprintf("Uploading [%s%s] %3d%%",
		strings.Repeat("#", filled),
		strings.Repeat("-", barWidth-filled),
		percent,
	)
}
