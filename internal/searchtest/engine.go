// Package searchtest runs an in-memory engine speaking the subset of the
// Elasticsearch/OpenSearch REST API the backends use: search with scroll,
// scroll advance, clear scroll, bulk, get and count.
package searchtest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
	"github.com/segmentio/encoding/json"
)

type document struct {
	id     string
	source map[string]any
}

type scrollContext struct {
	docs   []document
	offset int
	size   int
	source any
}

// Stats counts requests by kind.
type Stats struct {
	Searches  int
	Scrolls   int
	Clears    [][]string
	Bulks     int
	IDQueries int
}

// Engine is an in-memory search engine behind an httptest.Server.
type Engine struct {
	mu      sync.Mutex
	indices map[string][]document
	scrolls map[string]*scrollContext
	nextID  int
	stats   Stats
	// RotateScrollIDs makes every advance hand out a fresh scroll id.
	RotateScrollIDs bool
	failures        map[string]int

	server *httptest.Server
}

func NewEngine() *Engine {
	e := &Engine{
		indices:  map[string][]document{},
		scrolls:  map[string]*scrollContext{},
		failures: map[string]int{},
	}

	r := chi.NewRouter()
	r.Use(productHeader)
	r.Get("/", e.info)
	r.Post("/_bulk", e.bulk)
	r.Get("/_search/scroll", e.scroll)
	r.Post("/_search/scroll", e.scroll)
	r.Get("/_search/scroll/{scrollID}", e.scroll)
	r.Post("/_search/scroll/{scrollID}", e.scroll)
	r.Delete("/_search/scroll", e.clearScroll)
	r.Delete("/_search/scroll/{scrollID}", e.clearScroll)
	r.Get("/{index}/_search", e.search)
	r.Post("/{index}/_search", e.search)
	r.Post("/{index}/_count", e.count)
	r.Get("/{index}/_count", e.count)
	r.Post("/{index}/_bulk", e.bulk)
	r.Get("/{index}/_doc/{id}", e.get)

	e.server = httptest.NewServer(r)

	return e
}

// URL is the base address of the engine.
func (e *Engine) URL() string {
	return e.server.URL
}

func (e *Engine) Close() {
	e.server.Close()
}

// Add indexes documents in order. Each document must carry an "id" field.
func (e *Engine) Add(index string, docs ...map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, doc := range docs {
		// Store what a JSON client would have sent.
		raw, err := json.Marshal(doc)
		if err != nil {
			panic(fmt.Errorf("searchtest: cannot add document: %w", err))
		}
		var source map[string]any
		_ = json.Unmarshal(raw, &source)

		e.put(index, fmt.Sprint(doc["id"]), source)
	}
}

// CreateIndex registers an empty index.
func (e *Engine) CreateIndex(index string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.indices[index]; !ok {
		e.indices[index] = nil
	}
}

// FailNext makes the next n requests of kind ("search", "scroll", "clear",
// "bulk") answer with 503.
func (e *Engine) FailNext(kind string, n int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.failures[kind] = n
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := e.stats
	stats.Clears = slices.Clone(e.stats.Clears)

	return stats
}

// OpenScrolls is the number of scroll contexts that were not cleared.
func (e *Engine) OpenScrolls() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.scrolls)
}

// Source returns the stored body of a document.
func (e *Engine) Source(index, id string) (map[string]any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	doc, ok := lo.Find(e.indices[index], func(d document) bool { return d.id == id })

	return doc.source, ok
}

func (e *Engine) put(index, id string, source map[string]any) {
	docs := e.indices[index]
	idx := slices.IndexFunc(docs, func(d document) bool { return d.id == id })
	if idx >= 0 {
		docs[idx].source = source
		return
	}
	e.indices[index] = append(docs, document{id: id, source: source})
}

func (e *Engine) failing(kind string) bool {
	if e.failures[kind] > 0 {
		e.failures[kind]--
		return true
	}

	return false
}

func productHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (e *Engine) info(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"cluster_name": "searchtest",
		"version":      map[string]any{"number": "8.18.0", "distribution": "opensearch-compatible"},
		"tagline":      "You Know, for Search",
	})
}

type searchBody struct {
	Query  map[string]any `json:"query"`
	Sort   []any          `json:"sort"`
	Source any            `json:"_source"`
	From   int            `json:"from"`
	Size   *int           `json:"size"`
}

func (e *Engine) search(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.Searches++
	if e.failing("search") {
		writeError(w, http.StatusServiceUnavailable, "unavailable_shards_exception", "search failed")
		return
	}

	var body searchBody
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "parsing_exception", err.Error())
		return
	}

	targets := strings.Split(chi.URLParam(r, "index"), ",")
	for _, target := range targets {
		if _, ok := e.indices[target]; !ok {
			writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+target+"]")
			return
		}
	}

	matched, err := e.match(targets, body.Query)
	if err != nil {
		writeError(w, http.StatusBadRequest, "parsing_exception", err.Error())
		return
	}
	if hasIDsQuery(body.Query) {
		e.stats.IDQueries++
	}
	sortDocs(matched, body.Sort)

	size := 10
	if body.Size != nil {
		size = *body.Size
	}
	start := min(body.From, len(matched))
	end := min(start+size, len(matched))

	resp := searchResponse(len(matched), matched[start:end], body.Source)
	if r.URL.Query().Get("scroll") != "" {
		e.nextID++
		id := "scroll" + strconv.Itoa(e.nextID)
		e.scrolls[id] = &scrollContext{docs: matched, offset: end, size: size, source: body.Source}
		resp["_scroll_id"] = id
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *Engine) scroll(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.Scrolls++
	if e.failing("scroll") {
		writeError(w, http.StatusServiceUnavailable, "unavailable_shards_exception", "scroll failed")
		return
	}

	var body struct {
		ScrollID string `json:"scroll_id"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "parsing_exception", err.Error())
		return
	}

	id := lo.CoalesceOrEmpty(chi.URLParam(r, "scrollID"), r.URL.Query().Get("scroll_id"), body.ScrollID)
	ctx, ok := e.scrolls[id]
	if !ok {
		writeError(w, http.StatusNotFound, "search_context_missing_exception", "No search context found for id ["+id+"]")
		return
	}

	end := min(ctx.offset+ctx.size, len(ctx.docs))
	resp := searchResponse(len(ctx.docs), ctx.docs[ctx.offset:end], ctx.source)
	ctx.offset = end

	if e.RotateScrollIDs {
		delete(e.scrolls, id)
		e.nextID++
		id = "scroll" + strconv.Itoa(e.nextID)
		e.scrolls[id] = ctx
	}
	resp["_scroll_id"] = id

	writeJSON(w, http.StatusOK, resp)
}

func (e *Engine) clearScroll(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var ids []string
	if param := chi.URLParam(r, "scrollID"); param != "" {
		ids = strings.Split(param, ",")
	}
	if param := r.URL.Query().Get("scroll_id"); param != "" {
		ids = append(ids, strings.Split(param, ",")...)
	}

	var body struct {
		ScrollID any `json:"scroll_id"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "parsing_exception", err.Error())
		return
	}
	switch v := body.ScrollID.(type) {
	case string:
		ids = append(ids, v)
	case []any:
		ids = append(ids, lo.Map(v, func(item any, _ int) string { return fmt.Sprint(item) })...)
	}

	e.stats.Clears = append(e.stats.Clears, ids)
	if e.failing("clear") {
		writeError(w, http.StatusServiceUnavailable, "unavailable_shards_exception", "clear failed")
		return
	}

	freed := 0
	for _, id := range ids {
		if _, ok := e.scrolls[id]; ok {
			delete(e.scrolls, id)
			freed++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"succeeded": true, "num_freed": freed})
}

func (e *Engine) bulk(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.Bulks++
	if e.failing("bulk") {
		writeError(w, http.StatusServiceUnavailable, "unavailable_shards_exception", "bulk failed")
		return
	}

	defaultIndex := chi.URLParam(r, "index")
	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var items []map[string]any
	hasErrors := false
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var action map[string]struct {
			Index string `json:"_index"`
			ID    string `json:"_id"`
		}
		if err := json.Unmarshal(line, &action); err != nil {
			writeError(w, http.StatusBadRequest, "illegal_argument_exception", err.Error())
			return
		}

		for op, meta := range action {
			index := lo.CoalesceOrEmpty(meta.Index, defaultIndex)
			switch op {
			case "index", "create":
				if !scanner.Scan() {
					writeError(w, http.StatusBadRequest, "illegal_argument_exception", "missing document")
					return
				}
				var source map[string]any
				if err := json.Unmarshal(scanner.Bytes(), &source); err != nil {
					hasErrors = true
					items = append(items, map[string]any{op: map[string]any{
						"_id": meta.ID, "status": 400,
						"error": map[string]any{"type": "mapper_parsing_exception", "reason": err.Error()},
					}})
					continue
				}
				e.put(index, meta.ID, source)
				items = append(items, map[string]any{op: map[string]any{"_id": meta.ID, "status": 201}})
			case "delete":
				before := len(e.indices[index])
				e.indices[index] = lo.Reject(e.indices[index], func(d document, _ int) bool { return d.id == meta.ID })
				status := lo.Ternary(before == len(e.indices[index]), 404, 200)
				items = append(items, map[string]any{op: map[string]any{"_id": meta.ID, "status": status}})
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"errors": hasErrors, "items": items})
}

func (e *Engine) get(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()

	index, id := chi.URLParam(r, "index"), chi.URLParam(r, "id")
	doc, ok := lo.Find(e.indices[index], func(d document) bool { return d.id == id })
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"_index": index, "_id": id, "found": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"_index": index, "_id": id, "found": true, "_source": doc.source})
}

func (e *Engine) count(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var body searchBody
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "parsing_exception", err.Error())
		return
	}

	matched, err := e.match(strings.Split(chi.URLParam(r, "index"), ","), body.Query)
	if err != nil {
		writeError(w, http.StatusBadRequest, "parsing_exception", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"count": len(matched)})
}

// match supports match_all, term and bool.filter.ids queries.
func (e *Engine) match(targets []string, query map[string]any) ([]document, error) {
	var all []document
	for _, target := range targets {
		all = append(all, e.indices[target]...)
	}

	switch {
	case len(query) == 0 || query["match_all"] != nil:
		return all, nil
	case query["term"] != nil:
		term, _ := query["term"].(map[string]any)
		return lo.Filter(all, func(d document, _ int) bool {
			for field, want := range term {
				if fmt.Sprint(d.source[field]) != fmt.Sprint(want) {
					return false
				}
			}
			return true
		}), nil
	case hasIDsQuery(query):
		values := idsValues(query)
		return lo.Filter(all, func(d document, _ int) bool { return lo.Contains(values, d.id) }), nil
	default:
		return nil, fmt.Errorf("unsupported query %v", lo.Keys(query))
	}
}

func hasIDsQuery(query map[string]any) bool {
	return idsValues(query) != nil
}

func idsValues(query map[string]any) []string {
	boolQuery, _ := query["bool"].(map[string]any)
	filter, _ := boolQuery["filter"].(map[string]any)
	ids, _ := filter["ids"].(map[string]any)
	values, ok := ids["values"].([]any)
	if !ok {
		return nil
	}

	return lo.Map(values, func(v any, _ int) string { return fmt.Sprint(v) })
}

func sortDocs(docs []document, sort []any) {
	type key struct {
		field string
		desc  bool
	}

	var keys []key
	for _, s := range sort {
		switch v := s.(type) {
		case string:
			keys = append(keys, key{field: v})
		case map[string]any:
			for field, dir := range v {
				order := fmt.Sprint(dir)
				if m, ok := dir.(map[string]any); ok {
					order = fmt.Sprint(m["order"])
				}
				keys = append(keys, key{field: field, desc: order == "desc"})
			}
		}
	}

	// Unsorted searches come back in relevance order, modelled as newest
	// document first.
	if len(keys) == 0 {
		slices.Reverse(docs)
		return
	}

	slices.SortStableFunc(docs, func(a, b document) int {
		for _, k := range keys {
			if k.field == "_doc" {
				continue
			}
			c := compareValues(a.source[k.field], b.source[k.field])
			if k.desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
}

func compareValues(a, b any) int {
	af, aNum := a.(float64)
	bf, bNum := b.(float64)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}

	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func project(source map[string]any, filter any) (map[string]any, bool) {
	switch v := filter.(type) {
	case bool:
		return source, v
	case map[string]any:
		includes, _ := v["includes"].([]any)
		excludes, _ := v["excludes"].([]any)
		out := map[string]any{}
		for field, value := range source {
			if len(includes) > 0 && !lo.Contains(includes, any(field)) {
				continue
			}
			if lo.Contains(excludes, any(field)) {
				continue
			}
			out[field] = value
		}
		return out, true
	case []any:
		return project(source, map[string]any{"includes": v})
	default:
		return source, true
	}
}

func searchResponse(total int, docs []document, source any) map[string]any {
	hits := lo.Map(docs, func(d document, _ int) map[string]any {
		hit := map[string]any{"_index": "searchtest", "_id": d.id, "_score": nil}
		if body, ok := project(d.source, source); ok {
			hit["_source"] = body
		}
		return hit
	})

	return map[string]any{
		"took":      1,
		"timed_out": false,
		"_shards":   map[string]any{"total": 1, "successful": 1, "skipped": 0, "failed": 0},
		"hits": map[string]any{
			"total":     map[string]any{"value": total, "relation": "eq"},
			"max_score": nil,
			"hits":      hits,
		},
	}
}

func readJSON(r *http.Request, dst any) error {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	return json.Unmarshal(raw, dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, typ, reason string) {
	writeJSON(w, status, map[string]any{
		"error":  map[string]any{"type": typ, "reason": reason, "root_cause": []any{map[string]any{"type": typ, "reason": reason}}},
		"status": status,
	})
}
