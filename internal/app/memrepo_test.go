package app

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"nexus/manuals/internal/store"
)

// memRepo is an in-memory store.Repository. WithTx works on a copy of the
// data and only swaps it in when fn succeeds.
type memRepo struct {
	data *memData
	inTx bool
	fail map[string]error
	// onLock runs against the transaction's data when LockManual is called,
	// standing in for a writer that committed while the lock was awaited.
	onLock func(d *memData, manualID string)
}

type memData struct {
	manuals     map[string]store.Manual
	versions    []store.ManualVersion
	chapters    map[string]store.Chapter
	documents   map[string]store.ManualDocument
	views       map[string]store.ManualView
	contents    map[string]store.ContentEntry
	companies   []string
	deleted     map[string]bool
	companyTags map[string][]string
	copies      []store.TenantManualCopy
	seq         int
}

var errDuplicateVersion = errors.New("duplicate manual version")

var memEpoch = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func newMemRepo() *memRepo {
	return &memRepo{
		data: &memData{
			manuals:     map[string]store.Manual{},
			chapters:    map[string]store.Chapter{},
			documents:   map[string]store.ManualDocument{},
			views:       map[string]store.ManualView{},
			contents:    map[string]store.ContentEntry{},
			deleted:     map[string]bool{},
			companyTags: map[string][]string{},
		},
		fail: map[string]error{},
	}
}

func (d *memData) tick() time.Time {
	d.seq++
	return memEpoch.Add(time.Duration(d.seq) * time.Second)
}

func (d *memData) clone() *memData {
	out := &memData{
		manuals:     make(map[string]store.Manual, len(d.manuals)),
		versions:    append([]store.ManualVersion(nil), d.versions...),
		chapters:    make(map[string]store.Chapter, len(d.chapters)),
		documents:   make(map[string]store.ManualDocument, len(d.documents)),
		views:       make(map[string]store.ManualView, len(d.views)),
		contents:    d.contents,
		companies:   d.companies,
		deleted:     d.deleted,
		companyTags: d.companyTags,
		copies:      append([]store.TenantManualCopy(nil), d.copies...),
		seq:         d.seq,
	}
	for k, v := range d.manuals {
		out.manuals[k] = v
	}
	for k, v := range d.chapters {
		out.chapters[k] = v
	}
	for k, v := range d.documents {
		out.documents[k] = v
	}
	for k, v := range d.views {
		out.views[k] = v
	}
	return out
}

func (r *memRepo) check(op string) error {
	return r.fail[op]
}

func (r *memRepo) addContent(id, title string, revision int, html string) {
	r.data.contents[id] = store.ContentEntry{ID: id, Title: title, RevisionNo: revision, HTML: html, UpdatedAt: memEpoch}
}

func (r *memRepo) addCompany(id string, deleted bool, tags ...string) {
	r.data.companies = append(r.data.companies, id)
	r.data.deleted[id] = deleted
	r.data.companyTags[id] = tags
}

func (r *memRepo) versionRows(manualID string) []store.ManualVersion {
	out := []store.ManualVersion{}
	for _, v := range r.data.versions {
		if v.ManualID == manualID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

func (r *memRepo) WithTx(ctx context.Context, fn func(store.Repository) error) error {
	if r.inTx {
		return fn(r)
	}
	working := &memRepo{data: r.data.clone(), inTx: true, fail: r.fail, onLock: r.onLock}
	if err := fn(working); err != nil {
		return err
	}
	r.data = working.data
	return nil
}

func (r *memRepo) Ping(context.Context) error { return r.check("Ping") }

func (r *memRepo) GetManual(_ context.Context, manualID string) (store.Manual, error) {
	manual, ok := r.data.manuals[manualID]
	if !ok {
		return store.Manual{}, store.ErrNotFound
	}
	return manual, nil
}

func (r *memRepo) LockManual(ctx context.Context, manualID string) (store.Manual, error) {
	if err := r.check("LockManual"); err != nil {
		return store.Manual{}, err
	}
	if r.onLock != nil {
		r.onLock(r.data, manualID)
	}
	return r.GetManual(ctx, manualID)
}

func (r *memRepo) ManualCodeExists(_ context.Context, code string) (bool, error) {
	for _, m := range r.data.manuals {
		if m.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) PublicSlugExists(_ context.Context, slug, excludeManualID string) (bool, error) {
	for _, m := range r.data.manuals {
		if m.ID != excludeManualID && m.PublicSlug != nil && *m.PublicSlug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) ListManuals(_ context.Context, filter store.ManualFilter) ([]store.Manual, error) {
	out := []store.Manual{}
	for _, m := range r.data.manuals {
		if filter.Status != "" && m.Status != filter.Status {
			continue
		}
		if filter.Status == "" && !filter.IncludeArchived && m.Status == store.ManualStatusArchived {
			continue
		}
		if filter.OwnerCompanyID != "" && (m.OwnerCompanyID == nil || *m.OwnerCompanyID != filter.OwnerCompanyID) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memRepo) InsertManual(_ context.Context, manual store.Manual) error {
	if err := r.check("InsertManual"); err != nil {
		return err
	}
	at := r.data.tick()
	manual.CreatedAt, manual.UpdatedAt = at, at
	r.data.manuals[manual.ID] = manual
	return nil
}

func (r *memRepo) UpdateManual(_ context.Context, manual store.Manual) error {
	if err := r.check("UpdateManual"); err != nil {
		return err
	}
	current, ok := r.data.manuals[manual.ID]
	if !ok {
		return store.ErrNotFound
	}
	manual.Code = current.Code
	manual.CurrentVersion = current.CurrentVersion
	manual.CreatedAt = current.CreatedAt
	manual.UpdatedAt = r.data.tick()
	r.data.manuals[manual.ID] = manual
	return nil
}

func (r *memRepo) IncrementVersion(_ context.Context, manualID string) (int, error) {
	if err := r.check("IncrementVersion"); err != nil {
		return 0, err
	}
	manual, ok := r.data.manuals[manualID]
	if !ok {
		return 0, store.ErrNotFound
	}
	manual.CurrentVersion++
	r.data.manuals[manualID] = manual
	return manual.CurrentVersion, nil
}

func (r *memRepo) InsertVersion(_ context.Context, version store.ManualVersion) error {
	if err := r.check("InsertVersion"); err != nil {
		return err
	}
	for _, v := range r.data.versions {
		if v.ManualID == version.ManualID && v.Version == version.Version {
			return errDuplicateVersion
		}
	}
	version.CreatedAt = r.data.tick()
	r.data.versions = append(r.data.versions, version)
	return nil
}

func (r *memRepo) ListVersions(_ context.Context, manualID string) ([]store.ManualVersion, error) {
	rows := r.versionRows(manualID)
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

func (r *memRepo) GetVersion(_ context.Context, manualID string, version int) (store.ManualVersion, error) {
	for _, v := range r.data.versions {
		if v.ManualID == manualID && v.Version == version {
			return v, nil
		}
	}
	return store.ManualVersion{}, store.ErrNotFound
}

func (r *memRepo) ListChapters(_ context.Context, manualID string) ([]store.Chapter, error) {
	out := []store.Chapter{}
	for _, c := range r.data.chapters {
		if c.ManualID == manualID && c.Active {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memRepo) GetChapter(_ context.Context, manualID, chapterID string) (store.Chapter, error) {
	c, ok := r.data.chapters[chapterID]
	if !ok || c.ManualID != manualID || !c.Active {
		return store.Chapter{}, store.ErrNotFound
	}
	return c, nil
}

func (r *memRepo) MaxChapterSortOrder(ctx context.Context, manualID string) (int, bool, error) {
	chapters, _ := r.ListChapters(ctx, manualID)
	if len(chapters) == 0 {
		return 0, false, nil
	}
	maxOrder := chapters[0].SortOrder
	for _, c := range chapters {
		if c.SortOrder > maxOrder {
			maxOrder = c.SortOrder
		}
	}
	return maxOrder, true, nil
}

func (r *memRepo) InsertChapter(_ context.Context, chapter store.Chapter) error {
	if err := r.check("InsertChapter"); err != nil {
		return err
	}
	at := r.data.tick()
	chapter.CreatedAt, chapter.UpdatedAt = at, at
	r.data.chapters[chapter.ID] = chapter
	return nil
}

func (r *memRepo) UpdateChapter(_ context.Context, chapter store.Chapter) error {
	current, ok := r.data.chapters[chapter.ID]
	if !ok || current.ManualID != chapter.ManualID {
		return store.ErrNotFound
	}
	chapter.CreatedAt = current.CreatedAt
	chapter.UpdatedAt = r.data.tick()
	r.data.chapters[chapter.ID] = chapter
	return nil
}

func (r *memRepo) SetChapterSortOrder(_ context.Context, manualID, chapterID string, sortOrder int) (bool, error) {
	c, ok := r.data.chapters[chapterID]
	if !ok || c.ManualID != manualID || !c.Active {
		return false, nil
	}
	c.SortOrder = sortOrder
	r.data.chapters[chapterID] = c
	return true, nil
}

func (r *memRepo) ListDocuments(_ context.Context, manualID string) ([]store.ManualDocument, error) {
	out := []store.ManualDocument{}
	for _, d := range r.data.documents {
		if d.ManualID == manualID && d.Active {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memRepo) GetDocument(_ context.Context, manualID, documentID string) (store.ManualDocument, error) {
	d, ok := r.data.documents[documentID]
	if !ok || d.ManualID != manualID || !d.Active {
		return store.ManualDocument{}, store.ErrNotFound
	}
	return d, nil
}

func (r *memRepo) ActiveContentLinked(_ context.Context, manualID, contentID string) (bool, error) {
	for _, d := range r.data.documents {
		if d.ManualID == manualID && d.ContentID == contentID && d.Active {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) MaxDocumentSortOrder(ctx context.Context, manualID string, chapterID *string) (int, bool, error) {
	docs, _ := r.ListDocuments(ctx, manualID)
	found := false
	maxOrder := 0
	for _, d := range docs {
		if !sameParent(d.ChapterID, chapterID) {
			continue
		}
		if !found || d.SortOrder > maxOrder {
			maxOrder = d.SortOrder
		}
		found = true
	}
	return maxOrder, found, nil
}

func (r *memRepo) InsertDocument(_ context.Context, doc store.ManualDocument) error {
	if err := r.check("InsertDocument"); err != nil {
		return err
	}
	at := r.data.tick()
	doc.CreatedAt, doc.UpdatedAt = at, at
	r.data.documents[doc.ID] = doc
	return nil
}

func (r *memRepo) UpdateDocument(_ context.Context, doc store.ManualDocument) error {
	current, ok := r.data.documents[doc.ID]
	if !ok || current.ManualID != doc.ManualID {
		return store.ErrNotFound
	}
	doc.ContentID = current.ContentID
	doc.AddedInManualVersion = current.AddedInManualVersion
	doc.CreatedAt = current.CreatedAt
	doc.UpdatedAt = r.data.tick()
	r.data.documents[doc.ID] = doc
	return nil
}

func (r *memRepo) ReparentChapterDocuments(_ context.Context, manualID, chapterID string) (int64, error) {
	var moved int64
	for id, d := range r.data.documents {
		if d.ManualID == manualID && d.Active && d.ChapterID != nil && *d.ChapterID == chapterID {
			d.ChapterID = nil
			r.data.documents[id] = d
			moved++
		}
	}
	return moved, nil
}

func (r *memRepo) SetDocumentSortOrder(_ context.Context, manualID string, chapterID *string, documentID string, sortOrder int) (bool, error) {
	d, ok := r.data.documents[documentID]
	if !ok || d.ManualID != manualID || !d.Active || !sameParent(d.ChapterID, chapterID) {
		return false, nil
	}
	d.SortOrder = sortOrder
	r.data.documents[documentID] = d
	return true, nil
}

func (r *memRepo) ListViews(_ context.Context, manualID string) ([]store.ManualView, error) {
	out := []store.ManualView{}
	for _, v := range r.data.views {
		if v.ManualID == manualID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memRepo) GetView(_ context.Context, manualID, viewID string) (store.ManualView, error) {
	v, ok := r.data.views[viewID]
	if !ok || v.ManualID != manualID {
		return store.ManualView{}, store.ErrNotFound
	}
	return v, nil
}

func (r *memRepo) GetDefaultView(_ context.Context, manualID string) (store.ManualView, error) {
	for _, v := range r.data.views {
		if v.ManualID == manualID && v.IsDefault {
			return v, nil
		}
	}
	return store.ManualView{}, store.ErrNotFound
}

func (r *memRepo) InsertView(_ context.Context, view store.ManualView) error {
	at := r.data.tick()
	view.CreatedAt, view.UpdatedAt = at, at
	if len(view.Mapping) == 0 {
		view.Mapping = json.RawMessage(`{}`)
	}
	r.data.views[view.ID] = view
	return nil
}

func (r *memRepo) UpdateView(_ context.Context, view store.ManualView) error {
	current, ok := r.data.views[view.ID]
	if !ok || current.ManualID != view.ManualID {
		return store.ErrNotFound
	}
	view.CreatedAt = current.CreatedAt
	view.UpdatedAt = r.data.tick()
	r.data.views[view.ID] = view
	return nil
}

func (r *memRepo) DeleteView(_ context.Context, manualID, viewID string) error {
	v, ok := r.data.views[viewID]
	if !ok || v.ManualID != manualID {
		return store.ErrNotFound
	}
	delete(r.data.views, viewID)
	return nil
}

func (r *memRepo) ClearDefaultViews(_ context.Context, manualID, exceptViewID string) error {
	for id, v := range r.data.views {
		if v.ManualID == manualID && v.IsDefault && id != exceptViewID {
			v.IsDefault = false
			v.UpdatedAt = r.data.tick()
			r.data.views[id] = v
		}
	}
	return nil
}

func (r *memRepo) GetContents(_ context.Context, contentIDs []string) (map[string]store.ContentEntry, error) {
	out := map[string]store.ContentEntry{}
	for _, id := range contentIDs {
		if entry, ok := r.data.contents[id]; ok {
			out[id] = entry
		}
	}
	return out, nil
}

func (r *memRepo) ContentStamp(_ context.Context, manualID string) (time.Time, error) {
	var stamp time.Time
	for _, d := range r.data.documents {
		if d.ManualID != manualID || !d.Active {
			continue
		}
		if entry, ok := r.data.contents[d.ContentID]; ok && entry.UpdatedAt.After(stamp) {
			stamp = entry.UpdatedAt
		}
	}
	return stamp, nil
}

func (r *memRepo) ListContents(context.Context) ([]store.ContentEntry, error) {
	out := []store.ContentEntry{}
	for _, entry := range r.data.contents {
		entry.HTML = ""
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (r *memRepo) ActiveCompanyIDs(context.Context) ([]string, error) {
	out := []string{}
	for _, id := range r.data.companies {
		if !r.data.deleted[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *memRepo) CompanyIDsWithTags(_ context.Context, tagIDs []string) ([]string, error) {
	wanted := map[string]bool{}
	for _, tag := range tagIDs {
		wanted[tag] = true
	}
	out := []string{}
	for _, id := range r.data.companies {
		if r.data.deleted[id] {
			continue
		}
		for _, tag := range r.data.companyTags[id] {
			if wanted[tag] {
				out = append(out, id)
				break
			}
		}
	}
	return out, nil
}

func (r *memRepo) TenantCopyCompanyIDs(_ context.Context, manualID string) ([]string, error) {
	out := []string{}
	for _, c := range r.data.copies {
		if c.SourceManualID == manualID {
			out = append(out, c.CompanyID)
		}
	}
	return out, nil
}

func (r *memRepo) InsertTenantCopy(_ context.Context, item store.TenantManualCopy) (bool, error) {
	for _, c := range r.data.copies {
		if c.SourceManualID == item.SourceManualID && c.CompanyID == item.CompanyID {
			return false, nil
		}
	}
	item.CreatedAt = r.data.tick()
	r.data.copies = append(r.data.copies, item)
	return true, nil
}

func (r *memRepo) ListTenantCopies(_ context.Context, manualID string) ([]store.TenantManualCopy, error) {
	out := []store.TenantManualCopy{}
	for _, c := range r.data.copies {
		if c.SourceManualID == manualID {
			out = append(out, c)
		}
	}
	return out, nil
}
