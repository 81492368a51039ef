package knowledge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/corpus-go/internal/errors"
)

func TestParserSet_TextOnly(t *testing.T) {
	set := NewParserSet(false)
	assert.True(t, set.Supports(FileTypeText))
	for _, ft := range []FileType{FileTypePdf, FileTypeMSWord, FileTypeMSExcel} {
		assert.False(t, set.Supports(ft), ft)
		_, err := set.Lookup(ft)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotImplemented), ft)
	}
}

func TestParserSet_Binary(t *testing.T) {
	set := NewParserSet(true)
	for _, ft := range []FileType{FileTypeText, FileTypePdf, FileTypeMSWord, FileTypeMSExcel} {
		assert.True(t, set.Supports(ft), ft)
	}

	for _, ft := range []FileType{FileTypePdf, FileTypeMSWord, FileTypeMSExcel} {
		parser, err := set.Lookup(ft)
		require.NoError(t, err)
		_, err = parser.Parse(strings.NewReader("not a binary document"), "broken")
		assert.Error(t, err, ft)
	}
}

func TestTextParser_InvalidUTF8(t *testing.T) {
	parser, err := NewParserSet(false).Lookup(FileTypeText)
	require.NoError(t, err)
	text, err := parser.Parse(strings.NewReader("caf\xe9 au lait"), "menu.txt")
	require.NoError(t, err)
	assert.Equal(t, "caf� au lait", text)
}

func TestParserSet_Register(t *testing.T) {
	set := NewParserSet(false)
	set.Register(FileTypePdf, ParserFunc(func(data []byte, _ string) (string, error) {
		return strings.ToUpper(string(data)), nil
	}))
	parser, err := set.Lookup(FileTypePdf)
	require.NoError(t, err)
	text, err := parser.Parse(strings.NewReader("pdf"), "x.pdf")
	require.NoError(t, err)
	assert.Equal(t, "PDF", text)
}
