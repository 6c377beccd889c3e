package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	index "github.com/blevesearch/bleve_index_api"
	"github.com/gofrs/flock"
	lru "github.com/hashicorp/golang-lru/v2"

	iderrors "github.com/mboberg/identistore/errors"
)

const (
	// rawField stores the original JSON body, unindexed.
	rawField = "_raw"
	// revField stores the server-assigned version, unindexed. Kept as a
	// decimal string so stored-field round trips stay lossless.
	revField = "_rev"

	lockFileName = ".engine.lock"
)

// EngineConfig configures the bleve-backed engine.
type EngineConfig struct {
	// Path is the root directory for persistent indexes. Empty means
	// every index lives in memory (the test configuration).
	Path string
	// CacheSize bounds the per-index get-by-id cache. 0 disables it.
	CacheSize int
}

// DefaultEngineConfig returns an in-memory engine with a small cache.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{CacheSize: 512}
}

// Engine is a bleve/v2-backed Client. It provides the atomic
// compare-and-swap-on-version write semantics the repository relies on:
// versions start at 1 on create and increment on every successful
// replace, enforced under the engine write lock.
type Engine struct {
	mu      sync.RWMutex
	cfg     EngineConfig
	handles map[string]*indexHandle
	lock    *flock.Flock
	closed  bool
}

type indexHandle struct {
	idx    bleve.Index
	schema Schema
	cache  *lru.Cache[string, GetResult]
}

// NewEngine creates an engine. Path-backed engines take a cross-process
// file lock on the root directory and refuse to start when another
// process already holds the indexes.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	e := &Engine{cfg: cfg, handles: make(map[string]*indexHandle)}

	if cfg.Path != "" {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, iderrors.Unavailable("cannot create engine directory", err)
		}
		e.lock = flock.New(filepath.Join(cfg.Path, lockFileName))
		acquired, err := e.lock.TryLock()
		if err != nil {
			return nil, iderrors.Unavailable("cannot acquire engine lock", err)
		}
		if !acquired {
			return nil, iderrors.Unavailable(
				fmt.Sprintf("engine directory %s is locked by another process", cfg.Path), nil)
		}
	}

	return e, nil
}

// Close closes every open index and releases the engine lock.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	var firstErr error
	for name, h := range e.handles {
		if err := h.idx.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing index %s: %w", name, err)
		}
	}
	e.handles = nil

	if e.lock != nil {
		if err := e.lock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// IndexExists reports whether the named index exists, open or on disk.
func (e *Engine) IndexExists(ctx context.Context, name string) (ExistsResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return ExistsResult{}, iderrors.Unavailable("engine is closed", nil)
	}

	exists := false
	if _, ok := e.handles[name]; ok {
		exists = true
	} else if e.cfg.Path != "" {
		if _, err := os.Stat(e.indexPath(name)); err == nil {
			exists = true
		} else if !os.IsNotExist(err) {
			return ExistsResult{}, iderrors.Unavailable("cannot stat index directory", err).
				WithDetail("debug", fmt.Sprintf("index_exists index=%s error=stat", name))
		}
	}
	return ExistsResult{
		Exists: exists,
		Debug:  fmt.Sprintf("index_exists index=%s exists=%t", name, exists),
	}, nil
}

// CreateIndex creates the named index with the given schema. Creating
// an index that already exists fails with ERR_102_INDEX_EXISTS.
func (e *Engine) CreateIndex(ctx context.Context, name string, schema Schema) (IndexResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return IndexResult{}, iderrors.Unavailable("engine is closed", nil)
	}
	alreadyExists := iderrors.New(iderrors.ErrCodeIndexExists,
		fmt.Sprintf("index %q already exists", name), nil).
		WithDetail("debug", fmt.Sprintf("create_index index=%s error=exists", name))
	if _, ok := e.handles[name]; ok {
		return IndexResult{}, alreadyExists
	}

	im, err := buildMapping(schema)
	if err != nil {
		return IndexResult{}, iderrors.SetupFailure("invalid index schema", err)
	}

	var idx bleve.Index
	if e.cfg.Path == "" {
		idx, err = bleve.NewMemOnly(im)
	} else {
		if _, statErr := os.Stat(e.indexPath(name)); statErr == nil {
			return IndexResult{}, alreadyExists
		}
		idx, err = bleve.New(e.indexPath(name), im)
	}
	if err != nil {
		return IndexResult{}, iderrors.SetupFailure(fmt.Sprintf("cannot create index %q", name), err)
	}

	e.handles[name] = e.newHandle(idx, schema)
	slog.Debug("index_created", slog.String("index", name))
	return IndexResult{Debug: fmt.Sprintf("create_index index=%s", name)}, nil
}

// DeleteIndex removes the named index and everything in it.
func (e *Engine) DeleteIndex(ctx context.Context, name string) (IndexResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return IndexResult{}, iderrors.Unavailable("engine is closed", nil)
	}

	deleted := IndexResult{Debug: fmt.Sprintf("delete_index index=%s", name)}

	h, ok := e.handles[name]
	if !ok && e.cfg.Path != "" {
		if _, err := os.Stat(e.indexPath(name)); err == nil {
			// Index exists on disk but was never opened this run.
			if err := os.RemoveAll(e.indexPath(name)); err != nil {
				return IndexResult{}, iderrors.SetupFailure(fmt.Sprintf("cannot delete index %q", name), err)
			}
			slog.Debug("index_deleted", slog.String("index", name))
			return deleted, nil
		}
	}
	if !ok {
		return IndexResult{}, iderrors.NotFound(fmt.Sprintf("index %q does not exist", name)).
			WithDetail("debug", fmt.Sprintf("delete_index index=%s error=missing", name))
	}

	if err := h.idx.Close(); err != nil {
		return IndexResult{}, iderrors.SetupFailure(fmt.Sprintf("cannot close index %q", name), err)
	}
	delete(e.handles, name)
	if e.cfg.Path != "" {
		if err := os.RemoveAll(e.indexPath(name)); err != nil {
			return IndexResult{}, iderrors.SetupFailure(fmt.Sprintf("cannot delete index %q", name), err)
		}
	}
	slog.Debug("index_deleted", slog.String("index", name))
	return deleted, nil
}

// Get looks up a document by id. A missing document is not an error;
// Found is false.
func (e *Engine) Get(ctx context.Context, indexName, id string) (GetResult, error) {
	h, err := e.acquireHandle(indexName)
	if err != nil {
		return GetResult{}, err
	}

	// Hold the read lock across lookup and cache fill so a concurrent
	// Put cannot interleave its invalidation with a stale cache add.
	e.mu.RLock()
	defer e.mu.RUnlock()

	if h.cache != nil {
		if cached, ok := h.cache.Get(id); ok {
			return cached, nil
		}
	}

	q := bleve.NewDocIDQuery([]string{id})
	req := bleve.NewSearchRequest(q)
	req.Size = 1
	req.Fields = []string{rawField, revField}

	res, err := h.idx.SearchInContext(ctx, req)
	if err != nil {
		return GetResult{}, iderrors.Unavailable("get failed", err)
	}

	if len(res.Hits) == 0 {
		return GetResult{
			Found: false,
			Debug: fmt.Sprintf("get index=%s id=%s found=false took=%s", indexName, id, res.Took),
		}, nil
	}

	hit := res.Hits[0]
	raw, rev, err := storedPayload(hit.Fields)
	if err != nil {
		return GetResult{}, iderrors.Unavailable("corrupt stored document", err).WithDetail("id", id)
	}

	result := GetResult{
		Found:   true,
		ID:      hit.ID,
		Source:  raw,
		Version: rev,
		Debug:   fmt.Sprintf("get index=%s id=%s found=true version=%d took=%s", indexName, id, rev, res.Took),
	}
	if h.cache != nil {
		h.cache.Add(id, result)
	}
	return result, nil
}

// Search executes an exact-match conjunction or match-all query.
func (e *Engine) Search(ctx context.Context, indexName string, q Query) (SearchResult, error) {
	h, err := e.acquireHandle(indexName)
	if err != nil {
		return SearchResult{}, err
	}

	req := bleve.NewSearchRequest(buildQuery(q))
	req.Size = q.Size
	if req.Size <= 0 {
		req.Size = DefaultPageSize
	}
	req.From = q.From
	req.Fields = []string{rawField, revField}

	res, err := h.idx.SearchInContext(ctx, req)
	if err != nil {
		return SearchResult{}, iderrors.Unavailable("search failed", err)
	}

	out := SearchResult{
		Hits:  make([]Hit, 0, len(res.Hits)),
		Total: res.Total,
		Debug: fmt.Sprintf("search index=%s query=%s hits=%d total=%d took=%s",
			indexName, describeQuery(q), len(res.Hits), res.Total, res.Took),
	}
	for _, hit := range res.Hits {
		raw, rev, err := storedPayload(hit.Fields)
		if err != nil {
			return SearchResult{}, iderrors.Unavailable("corrupt stored document", err).WithDetail("id", hit.ID)
		}
		out.Hits = append(out.Hits, Hit{
			ID:      hit.ID,
			Source:  raw,
			Version: hitVersion(q, rev),
			Score:   hit.Score,
		})
	}
	return out, nil
}

// Put writes a document. OpTypeCreate assigns version 1 and fails on an
// existing id; OpTypeIndex compares the supplied version against the
// current one and increments it on success. The whole check-and-write
// runs under the engine write lock, which is what makes the version
// comparison atomic.
func (e *Engine) Put(ctx context.Context, indexName string, doc Document, opts PutOptions) (PutResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, err := e.handle(indexName)
	if err != nil {
		return PutResult{}, err
	}
	if doc.ID == "" {
		return PutResult{}, iderrors.InvalidArgument("document id is required")
	}

	current, exists, err := h.currentRevision(doc.ID)
	if err != nil {
		return PutResult{}, err
	}

	refused := func(reason string) string {
		return fmt.Sprintf("put index=%s id=%s op=%s error=%s",
			indexName, doc.ID, describeOp(opts.OpType), reason)
	}

	var next int64
	switch opts.OpType {
	case OpTypeCreate:
		if exists {
			return PutResult{}, iderrors.DuplicateID(doc.ID).
				WithDetail("debug", refused("duplicate_id"))
		}
		next = 1
	case OpTypeIndex:
		if !exists {
			return PutResult{}, iderrors.NotFound(
				fmt.Sprintf("document %q does not exist", doc.ID)).
				WithDetail("debug", refused("not_found"))
		}
		if opts.Version != current {
			return PutResult{}, iderrors.VersionConflict(doc.ID, opts.Version, current).
				WithDetail("debug", refused("version_conflict"))
		}
		next = current + 1
	default:
		return PutResult{}, iderrors.InvalidArgument(fmt.Sprintf("unknown op type %d", opts.OpType))
	}

	body := make(map[string]interface{})
	if err := json.Unmarshal(doc.Body, &body); err != nil {
		return PutResult{}, iderrors.InvalidArgument("document body is not a JSON object")
	}
	body[rawField] = string(doc.Body)
	body[revField] = strconv.FormatInt(next, 10)

	if err := h.idx.Index(doc.ID, body); err != nil {
		return PutResult{}, iderrors.Unavailable("write failed", err)
	}
	if h.cache != nil {
		h.cache.Remove(doc.ID)
	}

	return PutResult{
		ID:      doc.ID,
		Version: next,
		Debug: fmt.Sprintf("put index=%s id=%s op=%s version=%d refresh=%t",
			indexName, doc.ID, describeOp(opts.OpType), next, opts.Refresh),
	}, nil
}

// Delete removes a document, comparing the supplied version first.
func (e *Engine) Delete(ctx context.Context, indexName, id string, opts DeleteOptions) (DeleteResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, err := e.handle(indexName)
	if err != nil {
		return DeleteResult{}, err
	}
	if id == "" {
		return DeleteResult{}, iderrors.InvalidArgument("document id is required")
	}

	refused := func(reason string) string {
		return fmt.Sprintf("delete index=%s id=%s error=%s", indexName, id, reason)
	}

	current, exists, err := h.currentRevision(id)
	if err != nil {
		return DeleteResult{}, err
	}
	if !exists {
		return DeleteResult{}, iderrors.NotFound(fmt.Sprintf("document %q does not exist", id)).
			WithDetail("debug", refused("not_found"))
	}
	if opts.Version != current {
		return DeleteResult{}, iderrors.VersionConflict(id, opts.Version, current).
			WithDetail("debug", refused("version_conflict"))
	}

	if err := h.idx.Delete(id); err != nil {
		return DeleteResult{}, iderrors.Unavailable("delete failed", err)
	}
	if h.cache != nil {
		h.cache.Remove(id)
	}
	return DeleteResult{
		Debug: fmt.Sprintf("delete index=%s id=%s version=%d refresh=%t",
			indexName, id, opts.Version, opts.Refresh),
	}, nil
}

// acquireHandle returns the open handle for an index, taking its own
// locks. The bleve index itself is safe for concurrent use; the engine
// lock only guards the handle map and the closed flag here.
func (e *Engine) acquireHandle(name string) (*indexHandle, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, iderrors.Unavailable("engine is closed", nil)
	}
	if h, ok := e.handles[name]; ok {
		e.mu.RUnlock()
		return h, nil
	}
	e.mu.RUnlock()

	// Lazily open a path-backed index created by a previous run.
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handle(name)
}

// handle resolves or lazily opens an index. Callers hold e.mu
// exclusively.
func (e *Engine) handle(name string) (*indexHandle, error) {
	if e.closed {
		return nil, iderrors.Unavailable("engine is closed", nil)
	}
	if h, ok := e.handles[name]; ok {
		return h, nil
	}
	if e.cfg.Path != "" {
		if _, err := os.Stat(e.indexPath(name)); err == nil {
			idx, err := bleve.Open(e.indexPath(name))
			if err != nil {
				return nil, iderrors.SetupFailure(fmt.Sprintf("cannot open index %q", name), err)
			}
			h := e.newHandle(idx, Schema{})
			e.handles[name] = h
			return h, nil
		}
	}
	return nil, iderrors.NotFound(fmt.Sprintf("index %q does not exist", name))
}

func (e *Engine) newHandle(idx bleve.Index, schema Schema) *indexHandle {
	h := &indexHandle{idx: idx, schema: schema}
	if e.cfg.CacheSize > 0 {
		h.cache, _ = lru.New[string, GetResult](e.cfg.CacheSize)
	}
	return h
}

func (e *Engine) indexPath(name string) string {
	return filepath.Join(e.cfg.Path, name)
}

// currentRevision reads the stored revision of a document, bypassing
// the search path so CAS checks see the latest write.
func (h *indexHandle) currentRevision(id string) (int64, bool, error) {
	doc, err := h.idx.Document(id)
	if err != nil {
		return 0, false, iderrors.Unavailable("revision lookup failed", err)
	}
	if doc == nil {
		return 0, false, nil
	}

	var rev int64
	var found bool
	doc.VisitFields(func(f index.Field) {
		if f.Name() == revField {
			if v, perr := strconv.ParseInt(string(f.Value()), 10, 64); perr == nil {
				rev = v
				found = true
			}
		}
	})
	if !found {
		return 0, false, iderrors.Unavailable("document has no stored revision", nil).WithDetail("id", id)
	}
	return rev, true, nil
}

// buildMapping translates a Schema into a bleve index mapping. The
// schema analyzer is registered per index; the raw body and revision
// are stored-only fields; dynamic indexing is switched off when the
// catch-all aggregate is disabled.
func buildMapping(s Schema) (mapping.IndexMapping, error) {
	im := bleve.NewIndexMapping()

	if err := im.AddCustomAnalyzer(s.Analyzer.Name, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     s.Analyzer.Tokenizer,
		"token_filters": s.Analyzer.TokenFilters,
	}); err != nil {
		return nil, fmt.Errorf("registering analyzer %q: %w", s.Analyzer.Name, err)
	}
	im.DefaultAnalyzer = s.Analyzer.Name

	if s.DisableCatchAll {
		im.IndexDynamic = false
		im.StoreDynamic = false
		im.DocValuesDynamic = false
	}

	doc := bleve.NewDocumentMapping()
	for _, f := range s.Fields {
		addFieldAt(doc, strings.Split(f.Path, "."), fieldMapping(f, s.Analyzer.Name))
	}

	stored := func() *mapping.FieldMapping {
		fm := bleve.NewTextFieldMapping()
		fm.Index = false
		fm.Store = true
		fm.IncludeInAll = false
		fm.IncludeTermVectors = false
		return fm
	}
	doc.AddFieldMappingsAt(rawField, stored())
	doc.AddFieldMappingsAt(revField, stored())

	im.DefaultMapping = doc
	return im, nil
}

func fieldMapping(f Field, analyzer string) *mapping.FieldMapping {
	var fm *mapping.FieldMapping
	switch f.Type {
	case FieldBool:
		fm = bleve.NewBooleanFieldMapping()
	case FieldDate:
		fm = bleve.NewDateTimeFieldMapping()
	case FieldNumeric:
		fm = bleve.NewNumericFieldMapping()
	default:
		fm = bleve.NewTextFieldMapping()
		fm.Analyzer = analyzer
	}
	fm.Store = f.Store
	fm.Index = true
	fm.IncludeInAll = f.IncludeInAll
	fm.IncludeTermVectors = false
	return fm
}

// addFieldAt walks a dotted path, creating sub-document mappings as
// needed, and attaches the field mapping at the leaf.
func addFieldAt(doc *mapping.DocumentMapping, path []string, fm *mapping.FieldMapping) {
	if len(path) == 1 {
		doc.AddFieldMappingsAt(path[0], fm)
		return
	}
	sub, ok := doc.Properties[path[0]]
	if !ok {
		sub = bleve.NewDocumentMapping()
		doc.AddSubDocumentMapping(path[0], sub)
	}
	addFieldAt(sub, path[1:], fm)
}

func buildQuery(q Query) query.Query {
	if q.MatchAll || len(q.Terms) == 0 {
		return bleve.NewMatchAllQuery()
	}
	conj := bleve.NewConjunctionQuery()
	for _, t := range q.Terms {
		tq := bleve.NewTermQuery(t.Value)
		tq.SetField(t.Field)
		conj.AddQuery(tq)
	}
	return conj
}

// storedPayload extracts the raw body and revision from stored fields.
func storedPayload(fields map[string]interface{}) (json.RawMessage, int64, error) {
	raw, ok := fields[rawField].(string)
	if !ok {
		return nil, 0, fmt.Errorf("stored body missing")
	}
	revStr, ok := fields[revField].(string)
	if !ok {
		return nil, 0, fmt.Errorf("stored revision missing")
	}
	rev, err := strconv.ParseInt(revStr, 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("stored revision %q not numeric: %w", revStr, err)
	}
	return json.RawMessage(raw), rev, nil
}

// hitVersion honors RequestVersion: hit versions are only populated
// when the query asked for them.
func hitVersion(q Query, rev int64) int64 {
	if !q.RequestVersion {
		return 0
	}
	return rev
}

func describeOp(op OpType) string {
	if op == OpTypeCreate {
		return "create"
	}
	return "index"
}

func describeQuery(q Query) string {
	if q.MatchAll || len(q.Terms) == 0 {
		return "match_all"
	}
	parts := make([]string, 0, len(q.Terms))
	for _, t := range q.Terms {
		parts = append(parts, t.Field+"="+t.Value)
	}
	return strings.Join(parts, "&")
}

// Verify interface implementation
var _ Client = (*Engine)(nil)
