package app

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"nexus/manuals/internal/cache"
	"nexus/manuals/internal/content"
	"nexus/manuals/internal/distribution"
	"nexus/manuals/internal/exports"
	"nexus/manuals/internal/metrics"
	"nexus/manuals/internal/render"
	"nexus/manuals/internal/search"
	"nexus/manuals/internal/snapshots"
	"nexus/manuals/internal/store"
	"nexus/manuals/internal/toc"
	"nexus/manuals/internal/util"
)

// Actor is the already-authorized caller of a service operation.
type Actor struct {
	UserID    string
	UserName  string
	CompanyID string
}

type tocCache interface {
	Get(ctx context.Context, key cache.Key) ([]toc.Entry, bool, error)
	Set(ctx context.Context, key cache.Key, entries []toc.Entry) error
	Invalidate(ctx context.Context, manualID string) error
}

type searchService interface {
	Search(ctx context.Context, q search.Query) search.Response
	SyncManual(manual search.ManualRecord, documents []search.DocumentRecord, removedDocumentIDs []string)
}

type snapshotArchive interface {
	Store(manualID string, entry snapshots.Entry) (snapshots.Commit, error)
	Get(manualID string, version int) (snapshots.Entry, error)
	History(manualID string, limit int) ([]snapshots.Commit, error)
}

type exportStore interface {
	Upload(ctx context.Context, manualID string, version int, filename, contentType string, data []byte) (exports.Object, error)
}

type pdfRenderer interface {
	Render(ctx context.Context, html, filename string) (*render.Result, error)
}

type docxExporter func(ctx context.Context, html, filename string) (*render.Result, error)

// Options wires a Service. Repository is required; every other collaborator
// is optional and the corresponding feature degrades when it is nil.
type Options struct {
	Repository store.Repository
	Sanitizer  *content.Sanitizer
	Renderer   *render.Renderer
	PDF        pdfRenderer
	DOCX       docxExporter
	TOCCache   tocCache
	Search     searchService
	Snapshots  snapshotArchive
	Exports    exportStore
	Metrics    *metrics.Metrics
	Logger     logrus.FieldLogger
}

type Service struct {
	repo        store.Repository
	sanitizer   *content.Sanitizer
	renderer    *render.Renderer
	pdf         pdfRenderer
	docx        docxExporter
	cache       tocCache
	search      searchService
	snapshots   snapshotArchive
	exports     exportStore
	metrics     *metrics.Metrics
	distributor *distribution.Distributor
	validator   *validator.Validate
	tracer      trace.Tracer
	logger      logrus.FieldLogger
	now         func() time.Time
	newID       func(prefix string) string
}

func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	renderer := opts.Renderer
	if renderer == nil {
		renderer = render.NewRenderer("")
	}
	docx := opts.DOCX
	if docx == nil {
		docx = render.ExportDOCX
	}
	return &Service{
		repo:        opts.Repository,
		sanitizer:   opts.Sanitizer,
		renderer:    renderer,
		pdf:         opts.PDF,
		docx:        docx,
		cache:       opts.TOCCache,
		search:      opts.Search,
		snapshots:   opts.Snapshots,
		exports:     opts.Exports,
		metrics:     opts.Metrics,
		distributor: distribution.NewDistributor(opts.Repository, logger.WithField("module", "distribution")),
		validator:   newValidator(),
		tracer:      otel.Tracer("nexus/manuals/app"),
		logger:      logger.WithField("module", "manuals"),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       util.NewID,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// change describes the Version row a mutation appends.
type change struct {
	Type     string
	Notes    string
	Snapshot []byte
}

// mutate runs fn and the version append as one transaction. The manual row is
// locked before the archived check, so a concurrent Archive either commits
// first and is seen here or waits for this mutation to finish. The version is
// bumped before fn runs so fn sees the number its writes belong to.
func (s *Service) mutate(ctx context.Context, manualID string, actor Actor, fn func(tx store.Repository, manual store.Manual) (change, error)) (store.Manual, error) {
	var (
		updated store.Manual
		applied change
	)
	err := s.repo.WithTx(ctx, func(tx store.Repository) error {
		manual, err := tx.LockManual(ctx, manualID)
		if err != nil {
			return lookupError(err, "Manual")
		}
		if manual.Status == store.ManualStatusArchived {
			return manualArchived(manual.ID)
		}
		version, err := tx.IncrementVersion(ctx, manual.ID)
		if err != nil {
			return lookupError(err, "Manual")
		}
		manual.CurrentVersion = version

		applied, err = fn(tx, manual)
		if err != nil {
			return err
		}
		if err := tx.InsertVersion(ctx, store.ManualVersion{
			ID:              s.newID("mv"),
			ManualID:        manual.ID,
			Version:         version,
			ChangeType:      applied.Type,
			ChangeNotes:     applied.Notes,
			Snapshot:        applied.Snapshot,
			CreatedByUserID: actor.UserID,
		}); err != nil {
			return err
		}
		updated, err = tx.GetManual(ctx, manual.ID)
		return err
	})
	if err != nil {
		return store.Manual{}, err
	}

	s.metrics.VersionAppended(applied.Type)
	s.invalidateTOC(ctx, manualID)
	return updated, nil
}

func (s *Service) invalidateTOC(ctx context.Context, manualID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, manualID); err != nil {
		s.logger.WithError(err).WithField("manual_id", manualID).Warn("invalidate toc cache")
	}
}

// syncSearch pushes the manual and its active documents to the search index.
func (s *Service) syncSearch(ctx context.Context, manualID string, removedDocumentIDs ...string) {
	if s.search == nil {
		return
	}
	manual, err := s.repo.GetManual(ctx, manualID)
	if err != nil {
		s.logger.WithError(err).WithField("manual_id", manualID).Warn("load manual for search sync")
		return
	}
	chapters, err := s.repo.ListChapters(ctx, manualID)
	if err != nil {
		s.logger.WithError(err).WithField("manual_id", manualID).Warn("load chapters for search sync")
		return
	}
	docs, err := s.repo.ListDocuments(ctx, manualID)
	if err != nil {
		s.logger.WithError(err).WithField("manual_id", manualID).Warn("load documents for search sync")
		return
	}
	contents, err := s.repo.GetContents(ctx, documentContentIDs(docs))
	if err != nil {
		s.logger.WithError(err).WithField("manual_id", manualID).Warn("load contents for search sync")
		return
	}

	chapterTitles := make(map[string]string, len(chapters))
	for _, chapter := range chapters {
		chapterTitles[chapter.ID] = chapter.Title
	}
	records := make([]search.DocumentRecord, 0, len(docs))
	for _, doc := range docs {
		title := doc.DisplayTitleOverride
		if title == "" {
			title = contents[doc.ContentID].Title
		}
		record := search.DocumentRecord{ID: doc.ID, ManualID: manualID, Title: title, Status: manual.Status}
		if doc.ChapterID != nil {
			record.ChapterTitle = chapterTitles[*doc.ChapterID]
		}
		records = append(records, record)
	}
	s.search.SyncManual(search.ManualRecord{
		ID:          manual.ID,
		Code:        manual.Code,
		Title:       manual.Title,
		Description: manual.Description,
		Status:      manual.Status,
		Version:     manual.CurrentVersion,
	}, records, removedDocumentIDs)
}

func documentContentIDs(docs []store.ManualDocument) []string {
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ContentID)
	}
	return ids
}
