// Package docchunk adapts the markdown, code, and plain-text chunkers
// to operate on whole documents instead of files on disk: it
// implements coordinate.Chunker over model.Document, dispatching by
// detected content type and translating the file-based chunk.Chunk
// shape into model.Chunk, with deterministic ChunkIDs.
package docchunk

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/hybridsearch/docengine/internal/chunk"
	"github.com/hybridsearch/docengine/internal/model"
)

// Chunker dispatches a document to the markdown, code, or plain-text
// chunker based on its URI extension, then renumbers and re-IDs the
// resulting chunks against the document's DocId.
type Chunker struct {
	markdown *chunk.MarkdownChunker
	code     *chunk.CodeChunker
	registry *chunk.LanguageRegistry
}

// New constructs a Chunker. Callers must call Close when done, since
// the code chunker holds tree-sitter parser resources.
func New() *Chunker {
	registry := chunk.DefaultRegistry()
	return &Chunker{
		markdown: chunk.NewMarkdownChunker(),
		code:     chunk.NewCodeChunker(),
		registry: registry,
	}
}

// Close releases the underlying code chunker's parser resources.
func (c *Chunker) Close() {
	c.code.Close()
}

// Chunk implements coordinate.Chunker.
func (c *Chunker) Chunk(ctx context.Context, doc model.Document) ([]model.Chunk, error) {
	file := &chunk.FileInput{
		Path:    doc.URI,
		Content: []byte(doc.FullText),
	}

	var (
		raw []*chunk.Chunk
		err error
	)
	switch c.classify(doc) {
	case contentTypeMarkdown:
		raw, err = c.markdown.Chunk(ctx, file)
	case contentTypeCode:
		file.Language = c.languageFor(doc.URI)
		raw, err = c.code.Chunk(ctx, file)
	default:
		raw, err = chunkPlainText(doc.FullText)
	}
	if err != nil {
		return nil, err
	}

	chunks := make([]model.Chunk, len(raw))
	for i, rc := range raw {
		chunks[i] = model.Chunk{
			ChunkID:     model.ChunkID(doc.DocID, i),
			DocID:       doc.DocID,
			ChunkIndex:  i,
			Text:        rc.Content,
			SectionPath: sectionPath(rc),
			Offsets:     model.Range{Start: 0, End: len(rc.Content)},
		}
	}
	return chunks, nil
}

type contentType int

const (
	contentTypeText contentType = iota
	contentTypeMarkdown
	contentTypeCode
)

// classify picks a content type from an explicit metadata hint first
// (doc.Metadata["content_type"]), falling back to the URI extension.
func (c *Chunker) classify(doc model.Document) contentType {
	switch strings.ToLower(doc.Metadata["content_type"]) {
	case "markdown":
		return contentTypeMarkdown
	case "code":
		return contentTypeCode
	case "text":
		return contentTypeText
	}

	ext := filepath.Ext(doc.URI)
	switch strings.ToLower(ext) {
	case ".md", ".markdown", ".mdx":
		return contentTypeMarkdown
	}
	if _, ok := c.registry.GetByExtension(ext); ok {
		return contentTypeCode
	}
	return contentTypeText
}

func (c *Chunker) languageFor(uri string) string {
	ext := filepath.Ext(uri)
	if cfg, ok := c.registry.GetByExtension(ext); ok {
		return cfg.Name
	}
	return ""
}

// sectionPath recovers a markdown chunk's heading breadcrumb from the
// metadata the markdown chunker attaches, since chunk.Chunk has no
// dedicated section-path field of its own.
func sectionPath(rc *chunk.Chunk) []string {
	headerPath := rc.Metadata["header_path"]
	if headerPath == "" {
		return nil
	}
	parts := strings.Split(headerPath, " > ")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
