package render

import (
	"bytes"
	"crypto/rand"
	"embed"
	"fmt"
	"html/template"
	"io"
	"time"

	"nexus/manuals/internal/structure"
	"nexus/manuals/internal/toc"
)

const (
	BlankSectionText   = "This Section Intentionally Blank"
	NoContentHTML      = "<p>No content available</p>"
	DiagramsReadyEvent = "manual:diagrams-ready"
)

//go:embed templates/*.html templates/*.css
var templateFS embed.FS

var manualTemplate = template.Must(template.New("manual.html").ParseFS(templateFS, "templates/*.html"))

var printStyles = mustReadCSS("templates/print.css")

func mustReadCSS(name string) template.CSS {
	raw, err := templateFS.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("read %s: %v", name, err))
	}
	return template.CSS(raw)
}

type Renderer struct {
	now              func() time.Time
	random           io.Reader
	diagramScriptURL string
}

func NewRenderer(diagramScriptURL string) *Renderer {
	return &Renderer{now: time.Now, random: rand.Reader, diagramScriptURL: diagramScriptURL}
}

// WithClock fixes the render time and the serial's random source.
func (r *Renderer) WithClock(now func() time.Time, random io.Reader) *Renderer {
	copied := *r
	copied.now = now
	copied.random = random
	return &copied
}

type pageData struct {
	Styles           template.CSS
	Title            string
	Description      string
	IconEmoji        string
	CoverImageURL    string
	LogoURL          string
	HeaderLabel      string
	BrandingName     string
	Version          int
	DateLabel        string
	ShowCover        bool
	ShowToc          bool
	TocRows          []tocRow
	Chapters         []chapterView
	Appendices       []documentView
	AppendicesAnchor string
	AppendicesTitle  string
	Serial           string
	GeneratedFor     string
	GeneratedAt      string
	DiagramScriptURL string
	ReadyEvent       string
}

type tocRow struct {
	Title      string
	Anchor     string
	Level      int
	RevisionNo int
	Blank      bool
}

type chapterView struct {
	ID          string
	Anchor      string
	Title       string
	Description string
	Compact     bool
	Markers     bool
	Document    documentView
	Documents   []documentView
}

type documentView struct {
	ID         string
	Anchor     string
	Title      string
	RevisionNo int
	Blank      bool
	Markers    bool
	Body       template.HTML
}

// Render assembles the manual. Output differs between calls only by the
// render date and the tracking serial.
func (r *Renderer) Render(input Input) (Output, error) {
	at := r.now()
	serial := TrackingSerial(input.Manual.ID, input.Options.User.UserID, at, r.random)
	data := r.pageData(input, at, serial)

	var buf bytes.Buffer
	if err := manualTemplate.ExecuteTemplate(&buf, "manual.html", data); err != nil {
		return Output{}, fmt.Errorf("render manual html: %w", err)
	}
	return Output{
		HTML:     buf.String(),
		Serial:   serial,
		Filename: Filename(input.Manual.Title, at, string(FormatPDF)),
	}, nil
}

func (r *Renderer) pageData(input Input, at time.Time, serial string) pageData {
	opts := input.Options
	manual := input.Manual

	headerLabel := opts.Branding.HeaderLabel
	if headerLabel == "" {
		headerLabel = manual.Title
	}
	version := manual.Version
	if version <= 0 {
		version = 1
	}
	dateLabel := at.Format("January 2, 2006")
	if manual.PublishedAt != nil {
		dateLabel = manual.PublishedAt.Format("January 2, 2006")
	}
	generatedFor := opts.User.UserName
	if generatedFor == "" {
		generatedFor = "Unregistered copy"
	}

	data := pageData{
		Styles:           printStyles,
		Title:            manual.Title,
		Description:      manual.Description,
		IconEmoji:        manual.IconEmoji,
		CoverImageURL:    manual.CoverImageURL,
		LogoURL:          opts.Branding.LogoURL,
		HeaderLabel:      headerLabel,
		BrandingName:     opts.Branding.Name,
		Version:          version,
		DateLabel:        dateLabel,
		ShowCover:        opts.IncludeCoverPage,
		ShowToc:          opts.IncludeToc,
		TocRows:          tocRows(input.TOC),
		AppendicesAnchor: toc.AppendicesAnchor,
		AppendicesTitle:  toc.AppendicesTitle,
		Serial:           serial,
		GeneratedFor:     generatedFor,
		GeneratedAt:      at.UTC().Format("2006-01-02 15:04 UTC"),
		DiagramScriptURL: r.diagramScriptURL,
		ReadyEvent:       DiagramsReadyEvent,
	}

	compact := toc.CompactChapters(input.TOC)
	for _, chapter := range input.Structure.Chapters {
		view := chapterView{
			ID:          chapter.ID,
			Anchor:      toc.ChapterAnchor(chapter.ID),
			Title:       chapter.Title,
			Description: chapter.Description,
			Markers:     opts.IncludeRevisionMarkers,
		}
		if compact[chapter.ID] && len(chapter.Documents) == 1 {
			view.Compact = true
			view.Document = documentFor(chapter.Documents[0], opts.IncludeRevisionMarkers)
		} else {
			view.Documents = documentsFor(chapter.Documents, opts.IncludeRevisionMarkers)
		}
		data.Chapters = append(data.Chapters, view)
	}
	data.Appendices = documentsFor(input.Structure.RootDocuments, opts.IncludeRevisionMarkers)
	return data
}

func tocRows(entries []toc.Entry) []tocRow {
	var rows []tocRow
	for _, entry := range entries {
		rows = append(rows, tocRow{
			Title:      entry.Title,
			Anchor:     entry.Anchor,
			Level:      entry.Level,
			RevisionNo: entry.RevisionNo,
			Blank:      entry.Compact && !entry.IncludeInPrint,
		})
		for _, child := range entry.Children {
			rows = append(rows, tocRow{
				Title:      child.Title,
				Anchor:     child.Anchor,
				Level:      child.Level,
				RevisionNo: child.RevisionNo,
				Blank:      !child.IncludeInPrint,
			})
		}
	}
	return rows
}

func documentsFor(docs []structure.Document, markers bool) []documentView {
	out := make([]documentView, 0, len(docs))
	for _, doc := range docs {
		out = append(out, documentFor(doc, markers))
	}
	return out
}

// documentFor never carries a body for documents excluded from print.
func documentFor(doc structure.Document, markers bool) documentView {
	view := documentView{
		ID:         doc.ID,
		Anchor:     toc.DocumentAnchor(doc.ID),
		Title:      doc.Title(),
		RevisionNo: doc.RevisionNo(),
		Blank:      !doc.IncludeInPrint,
		Markers:    markers,
	}
	if view.Blank {
		return view
	}
	body := doc.Content.HTML
	if body == "" {
		body = NoContentHTML
	}
	view.Body = template.HTML(body)
	return view
}
