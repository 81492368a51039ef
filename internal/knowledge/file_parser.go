package knowledge

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/unidoc/unioffice/document"
	"github.com/unidoc/unioffice/spreadsheet"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"

	apperrors "github.com/aihub/corpus-go/internal/errors"
)

// FileParser 把文件内容转换为纯文本
type FileParser interface {
	Parse(reader io.Reader, filename string) (string, error)
}

// ParserFunc 函数形式的FileParser
type ParserFunc func(data []byte, filename string) (string, error)

// Parse 读出全部内容后交给函数处理
func (f ParserFunc) Parse(reader io.Reader, filename string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filename, err)
	}
	return f(data, filename)
}

// parseText 非法UTF-8字节替换为U+FFFD
func parseText(data []byte, _ string) (string, error) {
	return string(bytes.ToValidUTF8(data, []byte("�"))), nil
}

// parsePDF 逐页抽取文本，单页失败跳过，全部失败时报错
func parsePDF(data []byte, filename string) (string, error) {
	reader, err := model.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse pdf %s: %w", filename, err)
	}
	pages, err := reader.GetNumPages()
	if err != nil {
		return "", fmt.Errorf("count pages of %s: %w", filename, err)
	}

	var sb strings.Builder
	var lastErr error
	extracted := 0
	for n := 1; n <= pages; n++ {
		text, err := pdfPageText(reader, n)
		if err != nil {
			lastErr = err
			continue
		}
		extracted++
		sb.WriteString(text)
		sb.WriteByte('\n')
	}
	if extracted == 0 && lastErr != nil {
		return "", fmt.Errorf("extract text from %s: %w", filename, lastErr)
	}
	return sb.String(), nil
}

func pdfPageText(reader *model.PdfReader, n int) (string, error) {
	page, err := reader.GetPage(n)
	if err != nil {
		return "", err
	}
	ex, err := extractor.New(page)
	if err != nil {
		return "", err
	}
	return ex.ExtractText()
}

// parseDocx 段落逐行输出，表格按行以制表符分隔
func parseDocx(data []byte, filename string) (string, error) {
	doc, err := document.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parse docx %s: %w", filename, err)
	}
	defer doc.Close()

	var sb strings.Builder
	for _, para := range doc.Paragraphs() {
		sb.WriteString(paragraphText(para))
		sb.WriteByte('\n')
	}
	for _, table := range doc.Tables() {
		for _, row := range table.Rows() {
			cells := make([]string, 0, len(row.Cells()))
			for _, cell := range row.Cells() {
				var parts []string
				for _, para := range cell.Paragraphs() {
					parts = append(parts, paragraphText(para))
				}
				cells = append(cells, strings.Join(parts, " "))
			}
			sb.WriteString(strings.Join(cells, "\t"))
			sb.WriteByte('\n')
		}
	}
	return sb.String(), nil
}

func paragraphText(para document.Paragraph) string {
	var sb strings.Builder
	for _, run := range para.Runs() {
		sb.WriteString(run.Text())
	}
	return sb.String()
}

// parseXlsx 每个sheet一段，空行跳过
func parseXlsx(data []byte, filename string) (string, error) {
	wb, err := spreadsheet.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parse xlsx %s: %w", filename, err)
	}
	defer wb.Close()

	var sb strings.Builder
	for _, sheet := range wb.Sheets() {
		fmt.Fprintf(&sb, "Sheet: %s\n", sheet.Name())
		for _, row := range sheet.Rows() {
			values := make([]string, 0, len(row.Cells()))
			empty := true
			for _, cell := range row.Cells() {
				v := cell.GetString()
				if strings.TrimSpace(v) != "" {
					empty = false
				}
				values = append(values, v)
			}
			if empty {
				continue
			}
			sb.WriteString(strings.Join(values, "\t"))
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// ParserSet 按FileType选择解析器
type ParserSet struct {
	parsers map[FileType]FileParser
}

// NewParserSet binary为false时只支持Text
func NewParserSet(binary bool) *ParserSet {
	set := &ParserSet{parsers: map[FileType]FileParser{
		FileTypeText: ParserFunc(parseText),
	}}
	if binary {
		set.parsers[FileTypePdf] = ParserFunc(parsePDF)
		set.parsers[FileTypeMSWord] = ParserFunc(parseDocx)
		set.parsers[FileTypeMSExcel] = ParserFunc(parseXlsx)
	}
	return set
}

// Register 覆盖某类型的解析器
func (s *ParserSet) Register(ft FileType, parser FileParser) {
	s.parsers[ft] = parser
}

// Lookup 未注册的类型返回NotImplemented
func (s *ParserSet) Lookup(ft FileType) (FileParser, error) {
	parser, ok := s.parsers[ft]
	if !ok {
		return nil, apperrors.NewNotImplemented("file type %s not supported yet", ft)
	}
	return parser, nil
}

// Supports 是否支持该类型
func (s *ParserSet) Supports(ft FileType) bool {
	_, ok := s.parsers[ft]
	return ok
}
