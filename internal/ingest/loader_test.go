package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const foxDoc = `Title: Foxes of the North
Authors: A. Vulpes, B. Lagopus
Year: 2021
Publisher: Tundra Press
URL: https://example.org/foxes

Arctic foxes turn white in winter.
`

func TestLoader_Load_TextHeader(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "papers/fox.txt", foxDoc)
	l := NewLoader(nil, nil)

	doc, err := l.Load(root, "papers/fox.txt")

	require.NoError(t, err)
	assert.Equal(t, store.Metadata{
		Title:   "Foxes of the North",
		URL:     "https://example.org/foxes",
		Authors: []string{"A. Vulpes", "B. Lagopus"},
		Year:    2021,
		Path:    "papers/fox.txt",
	}, doc.Metadata)
	// The unknown key stays in the body; recognised ones are removed.
	assert.Equal(t, "Publisher: Tundra Press\n\nArctic foxes turn white in winter.\n", doc.Text)
	assert.Len(t, doc.ID, 16)
}

func TestLoader_Load_HeaderOnlyInFirstLines(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "late.md", "one\ntwo\nthree\nfour\nfive\nTitle: too late\n")

	doc, err := NewLoader(nil, nil).Load(root, "late.md")

	require.NoError(t, err)
	assert.Equal(t, "late", doc.Metadata.Title)
	assert.Contains(t, doc.Text, "Title: too late")
}

func TestLoader_Load_InvalidYearIsIgnored(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "Year: circa 1900\nBody text.\n")

	doc, err := NewLoader(nil, nil).Load(root, "a.txt")

	require.NoError(t, err)
	assert.Zero(t, doc.Metadata.Year)
}

func TestLoader_Load_Failures(t *testing.T) {
	tests := []struct {
		name    string
		rel     string
		content string
		code    string
	}{
		{"empty text", "empty.txt", "Title: Nothing\n\n", amerrors.ErrCodeUnsupportedIO},
		{"invalid utf-8", "bin.txt", "\xff\xfe\x00", amerrors.ErrCodeUnsupportedIO},
		{"not a pdf", "broken_x_2020.pdf", "%PDF-garbage", amerrors.ErrCodeUnsupportedIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeFile(t, root, tt.rel, tt.content)

			_, err := NewLoader(nil, nil).Load(root, tt.rel)

			assert.Equal(t, tt.code, amerrors.GetCode(err))
		})
	}
}

func TestLoader_Load_MissingFile(t *testing.T) {
	_, err := NewLoader(nil, nil).Load(t.TempDir(), "absent.txt")

	var re *amerrors.RagError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, amerrors.CategoryIO, re.Category)
}

func TestDocumentID_DependsOnPathAndContent(t *testing.T) {
	base := documentID("a.txt", []byte("x"))

	assert.Equal(t, base, documentID("a.txt", []byte("x")))
	assert.NotEqual(t, base, documentID("b.txt", []byte("x")))
	assert.NotEqual(t, base, documentID("a.txt", []byte("y")))
}

func TestFilenameMetadata(t *testing.T) {
	tests := []struct {
		name string
		want store.Metadata
	}{
		{"Fox Ecology_Vulpes-Lagopus_2021.pdf", store.Metadata{Title: "Fox Ecology", Authors: []string{"Vulpes", "Lagopus"}, Year: 2021}},
		{"Fox Ecology_Vulpes.pdf", store.Metadata{Title: "Fox Ecology", Authors: []string{"Vulpes"}}},
		{"report.pdf", store.Metadata{Title: "report"}},
		{"a_b_unknown.pdf", store.Metadata{Title: "a", Authors: []string{"b"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, filenameMetadata(tt.name))
		})
	}
}

func TestLoader_Walk(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b.md", "b")
	writeFile(t, root, "a.txt", "a")
	writeFile(t, root, "sub/c.PDF", "c")
	writeFile(t, root, "notes.docx", "skip")
	writeFile(t, root, ".hidden/d.txt", "skip")
	writeFile(t, root, ".e.txt", "skip")

	var got []string
	err := NewLoader(nil, nil).Walk(context.Background(), root, func(rel string) error {
		got = append(got, rel)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.md", "sub/c.PDF"}, got)
}

func TestLoader_Walk_CustomExtensions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "a")
	writeFile(t, root, "b.rst", "b")

	var got []string
	err := NewLoader([]string{"rst"}, nil).Walk(context.Background(), root, func(rel string) error {
		got = append(got, rel)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"b.rst"}, got)
}

func TestLoader_Walk_MissingRoot(t *testing.T) {
	err := NewLoader(nil, nil).Walk(context.Background(), filepath.Join(t.TempDir(), "nope"), func(string) error { return nil })

	assert.Equal(t, amerrors.ErrCodeFileNotFound, amerrors.GetCode(err))
}
