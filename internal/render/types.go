// Package render turns a projected manual into one self-contained printable
// HTML document, and hands that document to PDF or DOCX converters.
package render

import (
	"errors"
	"time"

	"nexus/manuals/internal/structure"
	"nexus/manuals/internal/toc"
)

type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

type Branding struct {
	Name        string `json:"name,omitempty"`
	LogoURL     string `json:"logoUrl,omitempty"`
	HeaderLabel string `json:"headerLabel,omitempty"`
}

// UserContext identifies who a copy was generated for. Display and tracking only.
type UserContext struct {
	UserID   string `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty"`
}

type Options struct {
	IncludeRevisionMarkers bool        `json:"includeRevisionMarkers"`
	IncludeToc             bool        `json:"includeToc"`
	IncludeCoverPage       bool        `json:"includeCoverPage"`
	Compact                bool        `json:"compact"`
	ViewID                 string      `json:"viewId,omitempty"`
	Branding               Branding    `json:"branding"`
	User                   UserContext `json:"userContext"`
}

func DefaultOptions() Options {
	return Options{IncludeToc: true, IncludeCoverPage: true}
}

// Manual is the metadata printed on the cover and used for naming.
type Manual struct {
	ID            string
	Code          string
	Title         string
	Description   string
	IconEmoji     string
	CoverImageURL string
	Version       int
	PublishedAt   *time.Time
}

type Input struct {
	Manual    Manual
	Structure structure.Structure
	TOC       []toc.Entry
	Options   Options
}

type Output struct {
	HTML     string
	Serial   string
	Filename string
}

type Result struct {
	Data     []byte
	Filename string
	MimeType string
	Serial   string
}

var (
	// ErrPDFDependencyMissing indicates no Chromium binary is available for PDF rendering.
	ErrPDFDependencyMissing = errors.New("render pdf dependency missing")
	// ErrDOCXDependencyMissing indicates pandoc is not installed.
	ErrDOCXDependencyMissing = errors.New("render docx dependency missing")
)
