package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/aihub/corpus-go/internal/errors"
	"github.com/bmatcuk/doublestar/v4"
)

// LoadedDocument 已读取为纯文本的文件
type LoadedDocument struct {
	Source string
	Text   string
}

// Loader 按条目匹配文件并解析为文本
type Loader struct {
	parsers *ParserSet
}

// NewLoader 创建加载器
func NewLoader(parsers *ParserSet) *Loader {
	if parsers == nil {
		parsers = NewParserSet(false)
	}
	return &Loader{parsers: parsers}
}

// Match 返回条目匹配到的文件绝对路径，按字典序排列
func (l *Loader) Match(entry *Entry) ([]string, error) {
	info, err := os.Stat(entry.Path)
	if err != nil {
		return nil, apperrors.NewInvalidParameters("invalid path: %s", entry.Path).WithCause(err)
	}
	if !info.IsDir() {
		if strings.EqualFold(strings.TrimPrefix(filepath.Ext(entry.Path), "."), entry.Extension) {
			return []string{entry.Path}, nil
		}
		return nil, nil
	}

	matches, err := doublestar.Glob(os.DirFS(entry.Path), entry.Glob(), doublestar.WithFilesOnly())
	if err != nil {
		return nil, apperrors.NewInvalidParameters("bad glob %s", entry.Glob()).WithCause(err)
	}
	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		paths = append(paths, filepath.Join(entry.Path, filepath.FromSlash(m)))
	}
	sort.Strings(paths)
	return paths, nil
}

// Load 读取单个文件
func (l *Loader) Load(ctx context.Context, path string, ft FileType) (LoadedDocument, error) {
	if err := ctx.Err(); err != nil {
		return LoadedDocument{}, err
	}
	parser, err := l.parsers.Lookup(ft)
	if err != nil {
		return LoadedDocument{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return LoadedDocument{}, apperrors.NewInvalidParameters("cannot open %s", path).WithCause(err)
	}
	defer f.Close()

	text, err := parser.Parse(f, filepath.Base(path))
	if err != nil {
		return LoadedDocument{}, err
	}
	return LoadedDocument{Source: path, Text: text}, nil
}

// Supports 是否能解析该类型
func (l *Loader) Supports(ft FileType) bool {
	return l.parsers.Supports(ft)
}
