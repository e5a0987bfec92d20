package app

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nexus/manuals/internal/cache"
	"nexus/manuals/internal/exports"
	"nexus/manuals/internal/projection"
	"nexus/manuals/internal/render"
	"nexus/manuals/internal/search"
	"nexus/manuals/internal/store"
	"nexus/manuals/internal/structure"
	"nexus/manuals/internal/toc"
)

// TOCInput selects the view to project through. Mapping, when set, previews
// an unsaved mapping and bypasses both the saved views and the cache.
type TOCInput struct {
	Compact bool
	ViewID  string
	Mapping *projection.Mapping
}

type TOCPayload struct {
	ManualID string      `json:"manualId" yaml:"manualId"`
	Version  int         `json:"version" yaml:"version"`
	ViewID   string      `json:"viewId,omitempty" yaml:"viewId,omitempty"`
	Compact  bool        `json:"compact" yaml:"compact"`
	Cached   bool        `json:"cached" yaml:"cached"`
	Entries  []toc.Entry `json:"entries" yaml:"entries"`
}

// ExportResult is a rendered file plus, when an export archive is
// configured, the stored object.
type ExportResult struct {
	*render.Result
	Object *exports.Object
}

type SearchInput struct {
	Query           string `json:"q" validate:"required,max=200"`
	Type            string `json:"type" validate:"omitempty,oneof=manual document"`
	IncludeArchived bool   `json:"includeArchived"`
	Limit           int    `json:"limit" validate:"min=0,max=100"`
	Offset          int    `json:"offset" validate:"min=0"`
}

// resolveView returns the requested view, or the manual's default view when
// viewID is empty. A manual without a default view renders canonically.
func (s *Service) resolveView(ctx context.Context, manualID, viewID string) (*store.ManualView, error) {
	if viewID != "" {
		view, err := s.repo.GetView(ctx, manualID, viewID)
		if err != nil {
			return nil, lookupError(err, "View")
		}
		return &view, nil
	}
	view, err := s.repo.GetDefaultView(ctx, manualID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// viewMapping decodes the mapping of view. No view is the empty mapping.
func viewMapping(view *store.ManualView) (projection.Mapping, error) {
	if view == nil {
		return projection.Mapping{}, nil
	}
	return projection.ParseJSON(view.Mapping)
}

// projected loads the live structure and applies the mapping.
func (s *Service) projected(ctx context.Context, manual store.Manual, mapping projection.Mapping) (structure.Structure, error) {
	live, err := s.liveStructure(ctx, manual)
	if err != nil {
		return structure.Structure{}, err
	}
	if mapping.IsZero() {
		return live, nil
	}
	return projection.Apply(live, mapping), nil
}

func (s *Service) TableOfContents(ctx context.Context, manualID string, input TOCInput) (TOCPayload, error) {
	manual, err := s.repo.GetManual(ctx, manualID)
	if err != nil {
		return TOCPayload{}, lookupError(err, "Manual")
	}
	out := TOCPayload{ManualID: manual.ID, Version: manual.CurrentVersion}
	if input.Mapping != nil {
		if err := validateMapping(*input.Mapping); err != nil {
			return TOCPayload{}, err
		}
		projected, err := s.projected(ctx, manual, *input.Mapping)
		if err != nil {
			return TOCPayload{}, err
		}
		out.Compact = input.Compact || input.Mapping.CompactSingleDocChapters
		out.Entries = toc.Build(projected, out.Compact)
		return out, nil
	}

	view, err := s.resolveView(ctx, manual.ID, strings.TrimSpace(input.ViewID))
	if err != nil {
		return TOCPayload{}, err
	}
	mapping, err := viewMapping(view)
	if err != nil {
		return TOCPayload{}, err
	}
	// A view asking for compact chapters compacts regardless of the request.
	out.Compact = input.Compact || mapping.CompactSingleDocChapters
	key := cache.Key{ManualID: manual.ID, Version: manual.CurrentVersion, Compact: out.Compact}
	if view != nil {
		out.ViewID = view.ID
		key.ViewID = view.ID
		key.ViewStamp = strconv.FormatInt(view.UpdatedAt.UnixNano(), 36)
	}

	if s.cache != nil {
		stamp, err := s.repo.ContentStamp(ctx, manual.ID)
		if err != nil {
			return TOCPayload{}, err
		}
		if !stamp.IsZero() {
			key.ContentStamp = strconv.FormatInt(stamp.UnixNano(), 36)
		}
		entries, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			s.metrics.TOCCache("error")
			s.logger.WithError(err).WithField("manual_id", manual.ID).Warn("read toc cache")
		case ok:
			s.metrics.TOCCache("hit")
			out.Cached = true
			out.Entries = entries
			return out, nil
		default:
			s.metrics.TOCCache("miss")
		}
	}

	projected, err := s.projected(ctx, manual, mapping)
	if err != nil {
		return TOCPayload{}, err
	}
	out.Entries = toc.Build(projected, out.Compact)

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, out.Entries); err != nil {
			s.logger.WithError(err).WithField("manual_id", manual.ID).Warn("write toc cache")
		}
	}
	return out, nil
}

// RenderHTML projects the manual through the requested or default view and
// renders the printable document. The user context defaults to the actor.
func (s *Service) RenderHTML(ctx context.Context, actor Actor, manualID string, opts render.Options) (out render.Output, err error) {
	ctx, span := s.tracer.Start(ctx, "manuals.render_html", trace.WithAttributes(attribute.String("manual.id", manualID)))
	started := time.Now()
	defer func() {
		s.metrics.ObserveRender(string(render.FormatHTML), err, time.Since(started))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "render failed")
		}
		span.End()
	}()

	manual, err := s.repo.GetManual(ctx, manualID)
	if err != nil {
		return render.Output{}, lookupError(err, "Manual")
	}
	view, err := s.resolveView(ctx, manual.ID, strings.TrimSpace(opts.ViewID))
	if err != nil {
		return render.Output{}, err
	}
	mapping, err := viewMapping(view)
	if err != nil {
		return render.Output{}, err
	}
	projected, err := s.projected(ctx, manual, mapping)
	if err != nil {
		return render.Output{}, err
	}
	opts.Compact = opts.Compact || mapping.CompactSingleDocChapters
	if opts.User.UserID == "" && opts.User.UserName == "" {
		opts.User = render.UserContext{UserID: actor.UserID, UserName: actor.UserName}
	}
	if view != nil {
		opts.ViewID = view.ID
		span.SetAttributes(attribute.String("manual.view_id", view.ID))
	}

	return s.renderer.Render(render.Input{
		Manual: render.Manual{
			ID:            manual.ID,
			Code:          manual.Code,
			Title:         manual.Title,
			Description:   manual.Description,
			IconEmoji:     manual.IconEmoji,
			CoverImageURL: manual.CoverImageURL,
			Version:       manual.CurrentVersion,
			PublishedAt:   manual.PublishedAt,
		},
		Structure: projected,
		TOC:       toc.Build(projected, opts.Compact),
		Options:   opts,
	})
}

// ExportPDF renders the manual and rasterizes it. The PDF is uploaded to the
// export archive when one is configured; upload failures are logged only.
func (s *Service) ExportPDF(ctx context.Context, actor Actor, manualID string, opts render.Options) (result ExportResult, err error) {
	if s.pdf == nil {
		return ExportResult{}, exportUnavailable("PDF export is not configured")
	}
	out, err := s.RenderHTML(ctx, actor, manualID, opts)
	if err != nil {
		return ExportResult{}, err
	}

	ctx, span := s.tracer.Start(ctx, "manuals.export_pdf", trace.WithAttributes(attribute.String("manual.id", manualID)))
	started := time.Now()
	defer func() {
		s.metrics.ObserveRender(string(render.FormatPDF), err, time.Since(started))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "pdf export failed")
		}
		span.End()
	}()

	rendered, err := s.pdf.Render(ctx, out.HTML, out.Filename)
	if err != nil {
		return ExportResult{}, exportError(err)
	}
	rendered.Serial = out.Serial
	result = ExportResult{Result: rendered}
	result.Object = s.storeExport(ctx, manualID, rendered)
	return result, nil
}

func (s *Service) ExportDOCX(ctx context.Context, actor Actor, manualID string, opts render.Options) (result ExportResult, err error) {
	out, err := s.RenderHTML(ctx, actor, manualID, opts)
	if err != nil {
		return ExportResult{}, err
	}
	started := time.Now()
	defer func() {
		s.metrics.ObserveRender(string(render.FormatDOCX), err, time.Since(started))
	}()

	filename := strings.TrimSuffix(out.Filename, "."+string(render.FormatPDF)) + "." + string(render.FormatDOCX)
	rendered, err := s.docx(ctx, out.HTML, filename)
	if err != nil {
		return ExportResult{}, exportError(err)
	}
	rendered.Serial = out.Serial
	result = ExportResult{Result: rendered}
	result.Object = s.storeExport(ctx, manualID, rendered)
	return result, nil
}

func (s *Service) storeExport(ctx context.Context, manualID string, rendered *render.Result) *exports.Object {
	if s.exports == nil {
		return nil
	}
	manual, err := s.repo.GetManual(ctx, manualID)
	if err != nil {
		s.logger.WithError(err).WithField("manual_id", manualID).Warn("load manual for export upload")
		return nil
	}
	object, err := s.exports.Upload(ctx, manual.ID, manual.CurrentVersion, rendered.Filename, rendered.MimeType, rendered.Data)
	if err != nil {
		s.logger.WithError(err).WithField("manual_id", manualID).Warn("upload export")
		return nil
	}
	return &object
}

func exportUnavailable(message string) *DomainError {
	return domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", message, nil)
}

func exportError(err error) error {
	if errors.Is(err, render.ErrPDFDependencyMissing) || errors.Is(err, render.ErrDOCXDependencyMissing) {
		return exportUnavailable(err.Error())
	}
	return err
}

func (s *Service) Search(ctx context.Context, input SearchInput) (search.Response, error) {
	input.Query = strings.TrimSpace(input.Query)
	if err := s.validate(input); err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: input.Query, Engine: "none"}, nil
	}
	return s.search.Search(ctx, search.Query{
		Text:            input.Query,
		FilterType:      search.ResultType(input.Type),
		IncludeArchived: input.IncludeArchived,
		Limit:           input.Limit,
		Offset:          input.Offset,
	}), nil
}
