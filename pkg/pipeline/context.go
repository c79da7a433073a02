package pipeline

import (
	"sync"

	"github.com/vectormill/vectormill/pkg/artifacts"
)

// Context is the per-run pipeline context vector transforms resolve their
// expected-id baselines and artifact documents from. Loads are cached for
// the scope of one run; Scope guarantees the cache is cleared on exit even
// when the run fails.
type Context struct {
	runtime *Runtime

	mu       sync.Mutex
	expected map[string][]string
	schema   *artifacts.Document
	metadata *artifacts.Document
	loaded   map[string]bool
}

// NewContext creates a context bound to a runtime.
func NewContext(runtime *Runtime) *Context {
	return &Context{
		runtime:  runtime,
		expected: make(map[string][]string),
		loaded:   make(map[string]bool),
	}
}

// Scope runs fn with the context active, clearing cached baselines on exit.
func (c *Context) Scope(fn func(*Context) error) error {
	defer c.Clear()
	return fn(c)
}

// Clear drops every cached baseline and document.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expected = make(map[string][]string)
	c.schema = nil
	c.metadata = nil
	c.loaded = make(map[string]bool)
}

// ExpectedIDs resolves the expected-id baseline for a payload. The features
// baseline prefers the precomputed partitioned-id artifact and falls back to
// the schema document; targets always come from the schema document. An
// empty baseline means no artifact has been materialized yet.
func (c *Context) ExpectedIDs(payload string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ids, ok := c.expected[payload]; ok {
		return ids, nil
	}

	var ids []string
	if payload != "targets" && c.runtime.Artifacts.Has(artifacts.KeyPartitionedIDs) {
		loaded, err := c.runtime.Artifacts.LoadPartitionedIDs()
		if err != nil {
			return nil, err
		}
		ids = loaded
	} else {
		entries, err := c.schemaEntriesLocked(payload)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			ids = append(ids, entry.ID)
		}
	}

	c.expected[payload] = ids
	return ids, nil
}

// Schema returns the declared schema entries for a payload, or nil when no
// schema artifact has been materialized.
func (c *Context) Schema(payload string) ([]artifacts.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.schemaEntriesLocked(payload)
}

func (c *Context) schemaEntriesLocked(payload string) ([]artifacts.Entry, error) {
	doc, err := c.documentLocked(artifacts.KeyVectorSchema, &c.schema)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return doc.Payload(payload), nil
}

// Metadata returns the vector metadata document, or nil when absent.
func (c *Context) Metadata() (*artifacts.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.documentLocked(artifacts.KeyVectorMetadata, &c.metadata)
}

func (c *Context) documentLocked(key string, cache **artifacts.Document) (*artifacts.Document, error) {
	if c.loaded[key] {
		return *cache, nil
	}
	if !c.runtime.Artifacts.Has(key) {
		c.loaded[key] = true
		return nil, nil
	}
	doc, err := c.runtime.Artifacts.LoadDocument(key)
	if err != nil {
		return nil, err
	}
	*cache = doc
	c.loaded[key] = true
	return doc, nil
}
