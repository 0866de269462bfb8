// Package ingest turns a directory of text, markdown and PDF files into
// embedded chunks in the local index.
package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// headerLines is how many leading lines of a text file may carry metadata.
const headerLines = 5

// DefaultExtensions are the file types loaded when none are configured.
var DefaultExtensions = []string{".txt", ".md", ".pdf"}

// Document is a loaded source file.
type Document struct {
	ID       string
	Text     string
	Metadata store.Metadata
}

// Loader reads supported files below a root directory.
type Loader struct {
	extensions map[string]bool
	logger     *slog.Logger
}

// NewLoader creates a loader for the given extensions (with leading dot).
func NewLoader(extensions []string, logger *slog.Logger) *Loader {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	if logger == nil {
		logger = slog.Default()
	}
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}
	return &Loader{extensions: exts, logger: logger}
}

// Walk calls fn with the slash-separated relative path of every supported
// file below root, in lexical order. Hidden files and directories are
// skipped.
func (l *Loader) Walk(ctx context.Context, root string, fn func(rel string) error) error {
	info, err := os.Stat(root)
	if err != nil {
		return amerrors.New(amerrors.ErrCodeFileNotFound, "document directory not found", err).
			WithDetail("path", root)
	}
	if !info.IsDir() {
		return amerrors.ValidationError(fmt.Sprintf("%s is not a directory", root), nil)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !l.Supports(path) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel))
	})
}

// Supports reports whether path has a loadable extension.
func (l *Loader) Supports(path string) bool {
	return l.extensions[strings.ToLower(filepath.Ext(path))]
}

// Load reads one file. rel is used for the document ID and stored path.
func (l *Loader) Load(root, rel string) (Document, error) {
	path := filepath.Join(root, filepath.FromSlash(rel))
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, amerrors.IOError("failed to read document", err).WithDetail("path", rel)
	}

	var doc Document
	switch strings.ToLower(filepath.Ext(rel)) {
	case ".pdf":
		text, err := pdfText(data)
		if err != nil {
			return Document{}, amerrors.New(amerrors.ErrCodeUnsupportedIO, "failed to read PDF text", err).
				WithDetail("path", rel)
		}
		doc = Document{Text: text, Metadata: filenameMetadata(filepath.Base(rel))}
	default:
		if !utf8.Valid(data) {
			return Document{}, amerrors.New(amerrors.ErrCodeUnsupportedIO, "document is not valid UTF-8", nil).
				WithDetail("path", rel)
		}
		meta, body := l.parseHeader(rel, string(data))
		doc = Document{Text: body, Metadata: meta}
	}

	if strings.TrimSpace(doc.Text) == "" {
		return Document{}, amerrors.New(amerrors.ErrCodeUnsupportedIO, "document has no text", nil).
			WithDetail("path", rel)
	}
	if doc.Metadata.Title == "" {
		doc.Metadata.Title = strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
	}
	doc.Metadata.Path = rel
	doc.ID = documentID(rel, data)
	return doc, nil
}

// parseHeader reads "key: value" metadata from the first lines of a text
// file. Recognised lines are removed from the body; unknown keys are
// left in place and logged.
func (l *Loader) parseHeader(rel, content string) (store.Metadata, string) {
	var meta store.Metadata
	lines := strings.SplitAfter(content, "\n")
	consumed := make([]bool, len(lines))

	for i := 0; i < len(lines) && i < headerLines; i++ {
		key, value, ok := strings.Cut(lines[i], ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "title":
			meta.Title = value
		case "url":
			meta.URL = value
		case "authors", "author":
			for _, a := range strings.Split(value, ",") {
				if a = strings.TrimSpace(a); a != "" {
					meta.Authors = append(meta.Authors, a)
				}
			}
		case "year":
			year, err := strconv.Atoi(value)
			if err != nil {
				l.logger.Debug("metadata_year_invalid", slog.String("path", rel), slog.String("value", value))
				continue
			}
			meta.Year = year
		default:
			l.logger.Debug("metadata_key_ignored", slog.String("path", rel), slog.String("key", key))
			continue
		}
		consumed[i] = true
	}

	var body strings.Builder
	for i, line := range lines {
		if !consumed[i] {
			body.WriteString(line)
		}
	}
	return meta, body.String()
}

// filenameMetadata parses "title_author1-author2_year.pdf".
func filenameMetadata(name string) store.Metadata {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	parts := strings.Split(stem, "_")

	meta := store.Metadata{Title: strings.TrimSpace(parts[0])}
	if len(parts) > 1 {
		for _, a := range strings.Split(parts[1], "-") {
			if a = strings.TrimSpace(a); a != "" {
				meta.Authors = append(meta.Authors, a)
			}
		}
	}
	if len(parts) > 2 {
		if year, err := strconv.Atoi(strings.TrimSpace(parts[2])); err == nil {
			meta.Year = year
		}
	}
	return meta
}

// pdfText extracts plain text. The parser panics on some malformed
// files; that is reported as an error.
func pdfText(data []byte) (text string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("malformed pdf: %v", p)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	out, err := io.ReadAll(plain)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// documentID hashes the relative path and content, so an edited or moved
// file gets a new ID.
func documentID(rel string, content []byte) string {
	h := sha256.New()
	h.Write([]byte(rel))
	h.Write([]byte{0})
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))[:16]
}
