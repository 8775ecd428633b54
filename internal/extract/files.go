package extract

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/quizbot/quizsolver/internal/quiz"
)

// dataFileExts are the link suffixes worth downloading.
var dataFileExts = []string{".csv", ".xlsx", ".xls", ".pdf"}

var numberPattern = regexp.MustCompile(`[-+]?\d*\.\d+|\d+`)

// FileDownload follows links to data files on the quiz page, downloads
// them with the static fetcher, and sums the value column.
type FileDownload struct {
	fetcher quiz.Fetcher
	logger  *zap.Logger

	// Column is the preferred column name; PDFPage is the 1-based page
	// holding the table in PDF attachments.
	Column  string
	PDFPage int
}

// NewFileDownload creates the extractor.
func NewFileDownload(fetcher quiz.Fetcher, logger *zap.Logger) *FileDownload {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileDownload{
		fetcher: fetcher,
		logger:  logger,
		Column:  "value",
		PDFPage: 2,
	}
}

// Name identifies the extractor in question records.
func (*FileDownload) Name() string { return "file_download" }

// Extract implements quiz.Extractor.
func (e *FileDownload) Extract(ctx context.Context, doc quiz.Document) (quiz.Solution, bool, error) {
	links, err := dataFileLinks(doc)
	if err != nil {
		return quiz.Solution{}, false, err
	}

	for _, link := range links {
		resp, err := e.fetcher.Fetch(ctx, quiz.FetchRequest{URL: link})
		if err != nil {
			e.logger.Warn("data file download failed", zap.String("url", link), zap.Error(err))
			continue
		}
		sol, ok, err := e.parseFile(link, resp.Body)
		if err != nil {
			e.logger.Warn("data file parse failed", zap.String("url", link), zap.Error(err))
			continue
		}
		if ok {
			return sol, true, nil
		}
	}
	return quiz.Solution{}, false, nil
}

func (e *FileDownload) parseFile(link string, data []byte) (quiz.Solution, bool, error) {
	switch strings.ToLower(path.Ext(linkPath(link))) {
	case ".csv":
		return e.parseCSV(data)
	case ".xlsx", ".xls":
		return e.parseXLSX(data)
	case ".pdf":
		return e.parsePDF(data)
	default:
		return quiz.Solution{}, false, nil
	}
}

func (e *FileDownload) parseCSV(data []byte) (quiz.Solution, bool, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return quiz.Solution{}, false, fmt.Errorf("read csv: %w", err)
	}
	return e.sumRecords(records)
}

func (e *FileDownload) parseXLSX(data []byte) (quiz.Solution, bool, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return quiz.Solution{}, false, fmt.Errorf("open workbook: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return quiz.Solution{}, false, nil
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return quiz.Solution{}, false, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return e.sumRecords(rows)
}

// parsePDF sums the numbers on the configured page, falling back to the
// whole document. PDF tables rarely survive text extraction with their
// structure intact, so this mirrors the plain-number fallback.
func (e *FileDownload) parsePDF(data []byte) (quiz.Solution, bool, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return quiz.Solution{}, false, fmt.Errorf("open pdf: %w", err)
	}

	if e.PDFPage >= 1 && e.PDFPage <= reader.NumPage() {
		page := reader.Page(e.PDFPage)
		if !page.V.IsNull() {
			text, err := page.GetPlainText(nil)
			if err == nil {
				if sum, ok := sumTextNumbers(text); ok {
					return quiz.Solution{Answer: sum, Confidence: 0.9}, true, nil
				}
			}
		}
	}

	var buf bytes.Buffer
	textReader, err := reader.GetPlainText()
	if err != nil {
		return quiz.Solution{}, false, fmt.Errorf("extract pdf text: %w", err)
	}
	if _, err := buf.ReadFrom(textReader); err != nil {
		return quiz.Solution{}, false, fmt.Errorf("read pdf text: %w", err)
	}
	if sum, ok := sumTextNumbers(buf.String()); ok {
		return quiz.Solution{Answer: sum, Confidence: 0.7}, true, nil
	}
	return quiz.Solution{}, false, nil
}

// sumRecords sums the named column when the header carries it (0.9),
// otherwise the first numeric column (0.7).
func (e *FileDownload) sumRecords(records [][]string) (quiz.Solution, bool, error) {
	if len(records) < 2 {
		return quiz.Solution{}, false, nil
	}
	headers, rows := records[0], records[1:]

	if sum, ok := sumColumn(headers, rows, e.Column); ok {
		return quiz.Solution{Answer: sum, Confidence: 0.9}, true, nil
	}
	for col := range columnCount(rows) {
		if sum, ok := sumIndex(rows, col); ok {
			return quiz.Solution{Answer: sum, Confidence: 0.7}, true, nil
		}
	}
	return quiz.Solution{}, false, nil
}

func sumTextNumbers(text string) (float64, bool) {
	matches := numberPattern.FindAllString(strings.ReplaceAll(text, ",", ""), -1)
	if len(matches) == 0 {
		return 0, false
	}
	var sum float64
	for _, m := range matches {
		if v, ok := parseNumber(m); ok {
			sum += v
		}
	}
	return sum, true
}

// dataFileLinks resolves every anchor on the page and keeps the ones
// pointing at data files.
func dataFileLinks(doc quiz.Document) ([]string, error) {
	base, err := url.Parse(doc.URL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	root, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.HTML))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var links []string
	root.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		lower := strings.ToLower(abs)
		for _, ext := range dataFileExts {
			if strings.Contains(lower, ext) {
				links = append(links, abs)
				return
			}
		}
	})
	return links, nil
}

func linkPath(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	return u.Path
}
