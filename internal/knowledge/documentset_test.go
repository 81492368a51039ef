package knowledge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/corpus-go/internal/errors"
)

func TestNewEntry_TypeSpec(t *testing.T) {
	dir := t.TempDir()

	entry, err := NewEntry(dir, "text", false, false)
	require.NoError(t, err)
	assert.Equal(t, FileTypeText, entry.FileType)
	assert.Equal(t, "txt", entry.Extension)
	assert.Equal(t, "*.txt", entry.Glob())

	entry, err = NewEntry(dir, "Text:md", true, false)
	require.NoError(t, err)
	assert.Equal(t, "md", entry.Extension)
	assert.Equal(t, "**/*.md", entry.Glob())

	entry, err = NewEntry(dir, "MSWORD", false, false)
	require.NoError(t, err)
	assert.Equal(t, FileTypeMSWord, entry.FileType)
	assert.Equal(t, "docx", entry.Extension)
}

func TestNewEntry_Invalid(t *testing.T) {
	dir := t.TempDir()

	_, err := NewEntry(dir, "Spreadsheet", false, false)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidParameters))

	missing := filepath.Join(dir, "missing")
	_, err = NewEntry(missing, "Text", false, false)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidParameters))

	// 延迟校验时不检查路径
	entry, err := NewEntry(missing, "Text", false, true)
	require.NoError(t, err)
	assert.Equal(t, missing, entry.Path)
}

func TestNewDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.MD")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	doc, err := NewDocument(path, false)
	require.NoError(t, err)
	assert.Equal(t, FileTypeText, doc.FileType)

	for ext, want := range map[string]FileType{".docx": FileTypeMSWord, ".pdf": FileTypePdf, ".xlsx": FileTypeMSExcel, ".rst": FileTypeText} {
		doc, err := NewDocument(filepath.Join(dir, "file"+ext), true)
		require.NoError(t, err, ext)
		assert.Equal(t, want, doc.FileType, ext)
	}

	_, err = NewDocument(filepath.Join(dir, "image.png"), true)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidParameters))

	_, err = NewDocument(filepath.Join(dir, "gone.txt"), false)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidParameters))
}

func TestNewDocumentSet_Product(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()
	c := t.TempDir()

	ds, err := NewDocumentSet("manuals", []string{a, b, c}, []string{"Text", "Pdf"}, true)
	require.NoError(t, err)
	assert.Equal(t, "manuals", ds.Name)
	require.Len(t, ds.Entries, 6)

	assert.Equal(t, a, ds.Entries[0].Path)
	assert.Equal(t, FileTypeText, ds.Entries[0].FileType)
	assert.Equal(t, FileTypePdf, ds.Entries[1].FileType)
	assert.Equal(t, c, ds.Entries[5].Path)
	for _, e := range ds.Entries {
		assert.True(t, e.Recursive)
	}

	_, err = NewDocumentSet("bad", []string{a}, []string{"Text", "Video"}, false)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidParameters))
}
