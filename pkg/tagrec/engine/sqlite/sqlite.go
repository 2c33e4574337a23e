package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/cognicore/tagrec/pkg/tagrec/analysis"
	"github.com/cognicore/tagrec/pkg/tagrec/engine"
	"github.com/cognicore/tagrec/pkg/tagrec/internalerr"
)

// FileName is the database file created inside the index directory.
const FileName = "index.db"

const (
	defaultRAMBufferMB = 64
	busyTimeoutMS      = 5000
	maxMmapSize        = 2147418112 // SQLite's default mmap ceiling
)

// Engine is an inverted index stored in a SQLite database.
//
// All writes go through one dedicated connection holding an explicit
// transaction that Commit ends. Readers run on pooled connections inside
// their own transaction, which WAL mode keeps pinned to the snapshot taken
// when the reader was opened.
type Engine struct {
	mu       sync.Mutex
	db       *sql.DB
	conn     *sql.Conn
	analyzer *analysis.Analyzer
	batch    *writeBatch
}

var _ engine.Engine = (*Engine)(nil)

// OpenSQLite opens or creates the index in opts.Dir.
func OpenSQLite(ctx context.Context, opts engine.Options) (*Engine, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("index directory is required: %w", internalerr.ErrInvalidConfig)
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(filepath.Join(opts.Dir, FileName), opts))
	if err != nil {
		return nil, err
	}

	// Enable WAL mode so readers keep their snapshot while the writer commits
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	an := opts.Analyzer
	if an == nil {
		an = analysis.New()
	}

	return &Engine{db: db, conn: conn, analyzer: an}, nil
}

// dsn sets per-connection pragmas. RAMBufferSizeMB bounds the page cache of
// each connection; InMemory maps the database file into memory.
func dsn(path string, opts engine.Options) string {
	ramMB := opts.RAMBufferSizeMB
	if ramMB <= 0 {
		ramMB = defaultRAMBufferMB
	}
	pragmas := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", busyTimeoutMS),
		fmt.Sprintf("_pragma=cache_size(%d)", -ramMB*1024),
	}
	if opts.InMemory {
		pragmas = append(pragmas, fmt.Sprintf("_pragma=mmap_size(%d)", maxMmapSize))
	}
	return "file:" + path + "?" + strings.Join(pragmas, "&")
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS docs (
	ref INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL,
	title TEXT NOT NULL,
	body TEXT NOT NULL,
	tags TEXT,
	title_len INTEGER NOT NULL,
	body_len INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_docs_id ON docs(id);
CREATE INDEX IF NOT EXISTS idx_docs_tags ON docs(tags);

CREATE TABLE IF NOT EXISTS postings (
	field TEXT NOT NULL,
	term TEXT NOT NULL,
	ref INTEGER NOT NULL,
	freq INTEGER NOT NULL,
	PRIMARY KEY(field, term, ref)
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS idx_postings_ref ON postings(ref, field);

CREATE TABLE IF NOT EXISTS term_df (
	field TEXT NOT NULL,
	term TEXT NOT NULL,
	df INTEGER NOT NULL,
	PRIMARY KEY(field, term)
) WITHOUT ROWID;
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// writeBatch is the open write transaction and its prepared statements.
type writeBatch struct {
	insertDoc     *sql.Stmt
	insertPosting *sql.Stmt
	incrementDF   *sql.Stmt
}

func (b *writeBatch) close() {
	for _, st := range []*sql.Stmt{b.insertDoc, b.insertPosting, b.incrementDF} {
		if st != nil {
			st.Close()
		}
	}
}

// begin starts the write transaction if none is open. Callers hold e.mu.
func (e *Engine) begin(ctx context.Context) error {
	if e.batch != nil {
		return nil
	}
	if _, err := e.conn.ExecContext(ctx, "BEGIN"); err != nil {
		return err
	}

	b := &writeBatch{}
	var err error
	if b.insertDoc, err = e.conn.PrepareContext(ctx,
		`INSERT INTO docs (id, title, body, tags, title_len, body_len) VALUES (?, ?, ?, ?, ?, ?)`); err != nil {
		e.abort(b)
		return err
	}
	if b.insertPosting, err = e.conn.PrepareContext(ctx,
		`INSERT INTO postings (field, term, ref, freq) VALUES (?, ?, ?, ?)`); err != nil {
		e.abort(b)
		return err
	}
	if b.incrementDF, err = e.conn.PrepareContext(ctx, `
		INSERT INTO term_df (field, term, df) VALUES (?, ?, 1)
		ON CONFLICT(field, term) DO UPDATE SET df = df + 1`); err != nil {
		e.abort(b)
		return err
	}
	e.batch = b
	return nil
}

// abort closes statements and rolls the transaction back.
func (e *Engine) abort(b *writeBatch) {
	b.close()
	e.conn.ExecContext(context.Background(), "ROLLBACK")
	e.batch = nil
}

// AddDocument stages doc in the write transaction. A rejected document
// leaves no rows behind.
func (e *Engine) AddDocument(ctx context.Context, doc engine.Document) error {
	if doc.ID == "" {
		return engine.Wrap("add", fmt.Errorf("%w: document id is required", internalerr.ErrInvalidInput))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.begin(ctx); err != nil {
		return engine.Wrap("add", fmt.Errorf("%w: %w", internalerr.ErrIndexWrite, err))
	}

	if _, err := e.conn.ExecContext(ctx, "SAVEPOINT add_doc"); err != nil {
		return engine.Wrap("add", fmt.Errorf("%w: %w", internalerr.ErrIndexWrite, err))
	}
	if err := e.insert(ctx, doc); err != nil {
		e.conn.ExecContext(context.Background(), "ROLLBACK TO add_doc")
		e.conn.ExecContext(context.Background(), "RELEASE add_doc")
		return engine.Wrap("add", fmt.Errorf("%w: %w", internalerr.ErrIndexWrite, err))
	}
	if _, err := e.conn.ExecContext(ctx, "RELEASE add_doc"); err != nil {
		return engine.Wrap("add", fmt.Errorf("%w: %w", internalerr.ErrIndexWrite, err))
	}
	return nil
}

func (e *Engine) insert(ctx context.Context, doc engine.Document) error {
	titleTF, titleLen := e.analyzer.TermFreqs(doc.Title)
	bodyTF, bodyLen := e.analyzer.TermFreqs(doc.Body)

	var tags sql.NullString
	if doc.Tags != "" {
		tags = sql.NullString{String: doc.Tags, Valid: true}
	}

	res, err := e.batch.insertDoc.ExecContext(ctx, doc.ID, doc.Title, doc.Body, tags, titleLen, bodyLen)
	if err != nil {
		return err
	}
	ref, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for _, f := range []struct {
		name  string
		freqs map[string]int
	}{{engine.FieldTitle, titleTF}, {engine.FieldBody, bodyTF}} {
		for term, freq := range f.freqs {
			if _, err := e.batch.insertPosting.ExecContext(ctx, f.name, term, ref, freq); err != nil {
				return err
			}
			if _, err := e.batch.incrementDF.ExecContext(ctx, f.name, term); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeleteByField stages deletion of every document whose id or tags equal value.
func (e *Engine) DeleteByField(ctx context.Context, field, value string) error {
	if err := engine.CheckDeleteField(field); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.begin(ctx); err != nil {
		return engine.Wrap("delete", err)
	}

	rows, err := e.conn.QueryContext(ctx, `SELECT ref FROM docs WHERE `+field+` = ?`, value)
	if err != nil {
		return engine.Wrap("delete", err)
	}
	var refs []int64
	for rows.Next() {
		var ref int64
		if err := rows.Scan(&ref); err != nil {
			rows.Close()
			return engine.Wrap("delete", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return engine.Wrap("delete", err)
	}
	rows.Close()

	for _, ref := range refs {
		if _, err := e.conn.ExecContext(ctx, `
			UPDATE term_df SET df = df - 1
			WHERE (field, term) IN (SELECT field, term FROM postings WHERE ref = ?)`, ref); err != nil {
			return engine.Wrap("delete", err)
		}
		if _, err := e.conn.ExecContext(ctx, `DELETE FROM postings WHERE ref = ?`, ref); err != nil {
			return engine.Wrap("delete", err)
		}
		if _, err := e.conn.ExecContext(ctx, `DELETE FROM docs WHERE ref = ?`, ref); err != nil {
			return engine.Wrap("delete", err)
		}
	}
	if len(refs) > 0 {
		if _, err := e.conn.ExecContext(ctx, `DELETE FROM term_df WHERE df <= 0`); err != nil {
			return engine.Wrap("delete", err)
		}
	}
	return nil
}

// Commit ends the write transaction. On failure the staged work is rolled
// back and must be resubmitted.
func (e *Engine) Commit(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.batch == nil {
		return nil
	}
	e.batch.close()
	e.batch = nil

	if _, err := e.conn.ExecContext(ctx, "COMMIT"); err != nil {
		// COMMIT can fail with the transaction still open (SQLITE_BUSY).
		e.conn.ExecContext(context.Background(), "ROLLBACK")
		return engine.Wrap("commit", fmt.Errorf("%w: %w", internalerr.ErrCommit, err))
	}
	return nil
}

// OpenReader pins a snapshot of the last commit.
func (e *Engine) OpenReader(ctx context.Context) (engine.Reader, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, engine.Wrap("open reader", err)
	}

	// The first read fixes the snapshot for the life of the transaction.
	var n int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM docs`).Scan(&n); err != nil {
		tx.Rollback()
		return nil, engine.Wrap("open reader", err)
	}
	return &reader{tx: tx, numDocs: n}, nil
}

// Close discards uncommitted work and closes the database.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.batch != nil {
		e.abort(e.batch)
	}
	connErr := e.conn.Close()
	if err := e.db.Close(); err != nil {
		return err
	}
	return connErr
}

type reader struct {
	tx      *sql.Tx
	numDocs int64
}

func (r *reader) NumDocs(ctx context.Context) (int64, error) {
	return r.numDocs, nil
}

func (r *reader) FindExactMatch(ctx context.Context, field, value string) (engine.DocRef, error) {
	if err := engine.CheckDeleteField(field); err != nil {
		return "", err
	}
	var ref int64
	err := r.tx.QueryRowContext(ctx,
		`SELECT ref FROM docs WHERE `+field+` = ? ORDER BY ref LIMIT 1`, value).Scan(&ref)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s %q: %w", field, value, internalerr.ErrNotFound)
	}
	if err != nil {
		return "", engine.Wrap("find", err)
	}
	return formatRef(ref), nil
}

func (r *reader) TermVector(ctx context.Context, ref engine.DocRef, field string) (map[string]int, error) {
	if field != engine.FieldTitle && field != engine.FieldBody {
		return nil, fmt.Errorf("field %q has no term vector: %w", field, internalerr.ErrInvalidInput)
	}
	id, err := parseRef(ref)
	if err != nil {
		return nil, err
	}

	rows, err := r.tx.QueryContext(ctx,
		`SELECT term, freq FROM postings WHERE ref = ? AND field = ?`, id, field)
	if err != nil {
		return nil, engine.Wrap("term vector", err)
	}
	defer rows.Close()

	tv := make(map[string]int)
	for rows.Next() {
		var term string
		var freq int
		if err := rows.Scan(&term, &freq); err != nil {
			return nil, engine.Wrap("term vector", err)
		}
		tv[term] = freq
	}
	if err := rows.Err(); err != nil {
		return nil, engine.Wrap("term vector", err)
	}

	if len(tv) == 0 {
		if err := r.exists(ctx, id); err != nil {
			return nil, err
		}
	}
	return tv, nil
}

func (r *reader) exists(ctx context.Context, id int64) error {
	var one int
	err := r.tx.QueryRowContext(ctx, `SELECT 1 FROM docs WHERE ref = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("document %d: %w", id, internalerr.ErrNotFound)
	}
	return engine.Wrap("lookup", err)
}

func (r *reader) DocFreq(ctx context.Context, field, term string) (int64, error) {
	var df int64
	err := r.tx.QueryRowContext(ctx,
		`SELECT df FROM term_df WHERE field = ? AND term = ?`, field, term).Scan(&df)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, engine.Wrap("doc freq", err)
	}
	return df, nil
}

// Search scores each posting list of the query with classic TF-IDF.
func (r *reader) Search(ctx context.Context, q engine.Query, topK int) ([]engine.ScoredHit, error) {
	if q.Empty() || r.numDocs == 0 {
		return nil, nil
	}

	acc := engine.NewAccumulator(len(q.Terms))
	for _, wt := range q.Terms {
		df, err := r.DocFreq(ctx, wt.Field, wt.Term)
		if err != nil {
			return nil, err
		}
		if df == 0 {
			continue
		}
		idf := engine.IDF(df, r.numDocs)

		rows, err := r.tx.QueryContext(ctx, `
			SELECT p.ref, p.freq, CASE p.field WHEN 'title' THEN d.title_len ELSE d.body_len END
			FROM postings p JOIN docs d ON d.ref = p.ref
			WHERE p.field = ? AND p.term = ?`, wt.Field, wt.Term)
		if err != nil {
			return nil, engine.Wrap("search", err)
		}
		for rows.Next() {
			var ref int64
			var freq, fieldLen int
			if err := rows.Scan(&ref, &freq, &fieldLen); err != nil {
				rows.Close()
				return nil, engine.Wrap("search", err)
			}
			acc.Add(formatRef(ref), engine.TermScore(wt.Weight, freq, idf, fieldLen))
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, engine.Wrap("search", err)
		}
	}
	return acc.TopHits(topK), nil
}

func (r *reader) StoredField(ctx context.Context, ref engine.DocRef, field string) (string, error) {
	id, err := parseRef(ref)
	if err != nil {
		return "", err
	}
	var d engine.Document
	var tags sql.NullString
	err = r.tx.QueryRowContext(ctx,
		`SELECT id, title, body, tags FROM docs WHERE ref = ?`, id).Scan(&d.ID, &d.Title, &d.Body, &tags)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("document %d: %w", id, internalerr.ErrNotFound)
	}
	if err != nil {
		return "", engine.Wrap("stored field", err)
	}
	d.Tags = tags.String

	v, ok := d.Field(field)
	if !ok && field != engine.FieldTags {
		return "", fmt.Errorf("unknown field %q: %w", field, internalerr.ErrInvalidInput)
	}
	return v, nil
}

func (r *reader) Close() error {
	return r.tx.Rollback()
}

func formatRef(ref int64) engine.DocRef {
	return engine.DocRef(strconv.FormatInt(ref, 10))
}

func parseRef(ref engine.DocRef) (int64, error) {
	id, err := strconv.ParseInt(string(ref), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("document ref %q: %w", ref, internalerr.ErrInvalidInput)
	}
	return id, nil
}
