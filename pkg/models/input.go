package models

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var (
	ErrNoInput          = errors.New("select a file or enter a YouTube URL")
	ErrConflictingInput = errors.New("provide either a file or a YouTube URL, not both")
	ErrInvalidURL       = errors.New("please enter a valid YouTube URL")
)

// InputKind tells which half of the submission union is populated
type InputKind string

const (
	InputKindFile InputKind = "file"
	InputKindURL  InputKind = "url"
)

var youtubePattern = regexp.MustCompile(`^(https?://)?(www\.)?(youtube\.com|youtu\.be)/.+`)

// IsYouTubeURL reports whether raw looks like a youtube.com or youtu.be link
func IsYouTubeURL(raw string) bool {
	return raw != "" && youtubePattern.MatchString(raw)
}

// Input is what the user submits: a local media file or a YouTube URL, never both
type Input struct {
	FilePath string `json:"file_path,omitempty" yaml:"file_path,omitempty"`
	URL      string `json:"url,omitempty" yaml:"url,omitempty"`
}

// Validate enforces the exactly-one-of rule and checks the populated half.
// It never touches the network.
func (in Input) Validate() error {
	file := strings.TrimSpace(in.FilePath)
	url := strings.TrimSpace(in.URL)

	switch {
	case file == "" && url == "":
		return ErrNoInput
	case file != "" && url != "":
		return ErrConflictingInput
	case url != "":
		if !IsYouTubeURL(url) {
			return fmt.Errorf("%w: %s", ErrInvalidURL, url)
		}
		return nil
	}

	info, err := os.Stat(file)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", file, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", file)
	}
	return nil
}

// Kind returns the populated half of the union
func (in Input) Kind() InputKind {
	if strings.TrimSpace(in.FilePath) != "" {
		return InputKindFile
	}
	return InputKindURL
}

// Value returns the file path or URL, whichever is set
func (in Input) Value() string {
	if in.Kind() == InputKindFile {
		return strings.TrimSpace(in.FilePath)
	}
	return strings.TrimSpace(in.URL)
}
