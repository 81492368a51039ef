package knowledge

import (
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/aihub/corpus-go/internal/errors"
)

// FileType 文档内容类型
type FileType string

const (
	FileTypeText    FileType = "Text"
	FileTypeMSWord  FileType = "MSWord"
	FileTypePdf     FileType = "Pdf"
	FileTypeMSExcel FileType = "MSExcel"
)

var fileTypes = []FileType{FileTypeText, FileTypeMSWord, FileTypePdf, FileTypeMSExcel}

var defaultExtensions = map[FileType]string{
	FileTypeText:    "txt",
	FileTypeMSWord:  "docx",
	FileTypePdf:     "pdf",
	FileTypeMSExcel: "xlsx",
}

// extensionTypes 扩展名到类型的固定映射
var extensionTypes = map[string]FileType{
	"txt":      FileTypeText,
	"text":     FileTypeText,
	"md":       FileTypeText,
	"markdown": FileTypeText,
	"rst":      FileTypeText,
	"docx":     FileTypeMSWord,
	"pdf":      FileTypePdf,
	"xlsx":     FileTypeMSExcel,
}

// ParseFileType 大小写不敏感地解析类型名
func ParseFileType(s string) (FileType, error) {
	for _, ft := range fileTypes {
		if strings.EqualFold(string(ft), strings.TrimSpace(s)) {
			return ft, nil
		}
	}
	return "", apperrors.NewInvalidParameters("invalid file type: %s", s)
}

// DefaultExtension 类型的默认扩展名
func (ft FileType) DefaultExtension() string {
	return defaultExtensions[ft]
}

// ParseTypeSpec 解析 "<FileType>[:<ext>]"
func ParseTypeSpec(spec string) (FileType, string, error) {
	parts := strings.SplitN(spec, ":", 2)
	ft, err := ParseFileType(parts[0])
	if err != nil {
		return "", "", err
	}
	ext := ft.DefaultExtension()
	if len(parts) > 1 {
		ext = strings.TrimPrefix(strings.TrimSpace(parts[1]), ".")
		if ext == "" {
			return "", "", apperrors.NewInvalidParameters("empty extension in type spec %q", spec)
		}
	}
	return ft, ext, nil
}

// FileTypeForPath 根据扩展名推断类型
func FileTypeForPath(path string) (FileType, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	ft, ok := extensionTypes[ext]
	if !ok {
		return "", apperrors.NewInvalidParameters("unknown file extension %q for %s", ext, path)
	}
	return ft, nil
}

// Entry 文档集中的一个来源：路径、类型、扩展名、是否递归
type Entry struct {
	Path      string
	FileType  FileType
	Extension string
	Recursive bool
}

// NewEntry 创建条目，delayValidation为true时不检查路径
func NewEntry(path, typeSpec string, recursive, delayValidation bool) (*Entry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, apperrors.NewInvalidParameters("entry path is empty")
	}
	ft, ext, err := ParseTypeSpec(typeSpec)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, apperrors.NewInvalidParameters("invalid path: %s", path).WithCause(err)
	}
	if !delayValidation {
		if _, err := os.Stat(abs); err != nil {
			return nil, apperrors.NewInvalidParameters("invalid path: %s", abs).WithCause(err)
		}
	}
	return &Entry{
		Path:      abs,
		FileType:  ft,
		Extension: ext,
		Recursive: recursive,
	}, nil
}

// Glob 条目对应的匹配模式
func (e *Entry) Glob() string {
	if e.Recursive {
		return "**/*." + e.Extension
	}
	return "*." + e.Extension
}

// Document 单个文件
type Document struct {
	Path     string
	FileType FileType
}

// NewDocument 根据扩展名创建文档
func NewDocument(path string, delayValidation bool) (*Document, error) {
	ft, err := FileTypeForPath(path)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, apperrors.NewInvalidParameters("invalid path: %s", path).WithCause(err)
	}
	if !delayValidation {
		info, err := os.Stat(abs)
		if err != nil {
			return nil, apperrors.NewInvalidParameters("invalid path: %s", abs).WithCause(err)
		}
		if info.IsDir() {
			return nil, apperrors.NewInvalidParameters("%s is a directory", abs)
		}
	}
	return &Document{Path: abs, FileType: ft}, nil
}

// DocumentSet 一组一起导入、可整体删除的条目
type DocumentSet struct {
	Name    string
	Entries []*Entry
}

// AddEntry 追加条目
func (ds *DocumentSet) AddEntry(entries ...*Entry) {
	ds.Entries = append(ds.Entries, entries...)
}

// NewDocumentSet paths × types 的笛卡尔积，每个组合一个条目
func NewDocumentSet(name string, paths, types []string, recursive bool) (*DocumentSet, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperrors.NewInvalidParameters("document set name is empty")
	}
	ds := &DocumentSet{Name: name}
	for _, p := range paths {
		for _, t := range types {
			entry, err := NewEntry(p, t, recursive, false)
			if err != nil {
				return nil, err
			}
			ds.AddEntry(entry)
		}
	}
	return ds, nil
}
