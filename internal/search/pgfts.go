package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher with PostgreSQL full-text search. It backs
// searches whenever Meilisearch is absent or unhealthy.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy is always true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

const documentVector = `to_tsvector('english', coalesce(nullif(md.display_title_override, ''), sd.title) || ' ' || coalesce(c.title, ''))`

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	tsQuery := "plainto_tsquery('english', $1)"
	archived := ""
	if !q.IncludeArchived {
		archived = " AND m.status <> 'ARCHIVED'"
	}

	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultManual {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'manual'::text AS type, m.id, m.title,
				ts_headline('english', coalesce(m.description, ''), %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				m.id AS manual_id, m.status,
				ts_rank(m.search_vector, %[1]s) AS rank
			FROM manuals m
			WHERE m.search_vector @@ %[1]s%[2]s`, tsQuery, archived))
	}
	if q.FilterType == "" || q.FilterType == ResultDocument {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'document'::text AS type, md.id, coalesce(nullif(md.display_title_override, ''), sd.title) AS title,
				coalesce(c.title, '') AS snippet,
				md.manual_id, m.status,
				ts_rank(%[2]s, %[1]s) AS rank
			FROM manual_documents md
			JOIN system_documents sd ON sd.id = md.system_document_id
			JOIN manuals m ON m.id = md.manual_id
			LEFT JOIN manual_chapters c ON c.id = md.chapter_id
			WHERE md.active AND %[2]s @@ %[1]s%[3]s`, tsQuery, documentVector, archived))
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM ("+union+") sub", q.Text).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT type, id, title, snippet, manual_id, status
		FROM (%s) sub
		ORDER BY rank DESC, title ASC
		LIMIT %d OFFSET %d`, union, normalizeLimit(q.Limit), max(q.Offset, 0)), q.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r   Result
			typ string
		)
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ManualID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every manual and active manual-document link for a
// full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ManualRecord, []DocumentRecord, error) {
	manualRows, err := p.db.QueryContext(ctx, `
		SELECT id, code, title, description, status, current_version FROM manuals
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load manuals: %w", err)
	}
	defer manualRows.Close()

	manuals := make([]ManualRecord, 0)
	for manualRows.Next() {
		var m ManualRecord
		if err := manualRows.Scan(&m.ID, &m.Code, &m.Title, &m.Description, &m.Status, &m.Version); err != nil {
			return nil, nil, fmt.Errorf("scan manual: %w", err)
		}
		manuals = append(manuals, m)
	}
	if err := manualRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate manuals: %w", err)
	}

	docRows, err := p.db.QueryContext(ctx, `
		SELECT md.id, md.manual_id, coalesce(nullif(md.display_title_override, ''), sd.title), coalesce(c.title, ''), m.status
		FROM manual_documents md
		JOIN system_documents sd ON sd.id = md.system_document_id
		JOIN manuals m ON m.id = md.manual_id
		LEFT JOIN manual_chapters c ON c.id = md.chapter_id
		WHERE md.active
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load manual documents: %w", err)
	}
	defer docRows.Close()

	documents := make([]DocumentRecord, 0)
	for docRows.Next() {
		var d DocumentRecord
		if err := docRows.Scan(&d.ID, &d.ManualID, &d.Title, &d.ChapterTitle, &d.Status); err != nil {
			return nil, nil, fmt.Errorf("scan manual document: %w", err)
		}
		documents = append(documents, d)
	}
	if err := docRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate manual documents: %w", err)
	}
	return manuals, documents, nil
}
