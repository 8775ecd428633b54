package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/quizbot/quizsolver/internal/quiz"
)

type fakeFileFetcher struct {
	files map[string][]byte
	err   error
}

func (f *fakeFileFetcher) Fetch(_ context.Context, req quiz.FetchRequest) (quiz.FetchResponse, error) {
	if f.err != nil {
		return quiz.FetchResponse{}, f.err
	}
	body, ok := f.files[req.URL]
	if !ok {
		return quiz.FetchResponse{}, errors.New("not found")
	}
	return quiz.FetchResponse{URL: req.URL, StatusCode: 200, Body: body}, nil
}

func TestFileDownloadSumsCSVNamedColumn(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFileFetcher{files: map[string][]byte{
		"https://quiz.example/data.csv": []byte("name,value\na,10\nb,20\nc,12.5\n"),
	}}
	html := []byte(`<html><a href="/data.csv">download</a></html>`)

	sol, ok, err := NewFileDownload(fetcher, nil).Extract(context.Background(), quiz.Document{
		URL:  "https://quiz.example/q/1",
		HTML: html,
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 42.5, sol.Answer, 1e-9)
	require.InDelta(t, 0.9, sol.Confidence, 1e-9)
}

func TestFileDownloadFallsBackToNumericColumn(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFileFetcher{files: map[string][]byte{
		"https://quiz.example/data.csv": []byte("name,amount\na,1\nb,2\n"),
	}}
	html := []byte(`<a href="https://quiz.example/data.csv">data</a>`)

	sol, ok, err := NewFileDownload(fetcher, nil).Extract(context.Background(), quiz.Document{
		URL:  "https://quiz.example/q/1",
		HTML: html,
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 3.0, sol.Answer, 1e-9)
	require.InDelta(t, 0.7, sol.Confidence, 1e-9)
}

func TestFileDownloadSumsXLSX(t *testing.T) {
	t.Parallel()

	wb := excelize.NewFile()
	sheet := wb.GetSheetName(0)
	require.NoError(t, wb.SetSheetRow(sheet, "A1", &[]any{"name", "value"}))
	require.NoError(t, wb.SetSheetRow(sheet, "A2", &[]any{"a", 5}))
	require.NoError(t, wb.SetSheetRow(sheet, "A3", &[]any{"b", 7}))
	var buf bytes.Buffer
	require.NoError(t, wb.Write(&buf))

	fetcher := &fakeFileFetcher{files: map[string][]byte{
		"https://quiz.example/q/report.xlsx": buf.Bytes(),
	}}
	html := []byte(`<a href="report.xlsx">workbook</a>`)

	sol, ok, err := NewFileDownload(fetcher, nil).Extract(context.Background(), quiz.Document{
		URL:  "https://quiz.example/q/2",
		HTML: html,
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 12.0, sol.Answer, 1e-9)
	require.InDelta(t, 0.9, sol.Confidence, 1e-9)
}

func TestFileDownloadSkipsBrokenLinksAndKeepsGoing(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFileFetcher{files: map[string][]byte{
		"https://quiz.example/good.csv": []byte("value\n1\n2\n"),
	}}
	html := []byte(`<a href="/missing.csv">bad</a><a href="/good.csv">good</a>`)

	sol, ok, err := NewFileDownload(fetcher, nil).Extract(context.Background(), quiz.Document{
		URL:  "https://quiz.example/q/3",
		HTML: html,
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 3.0, sol.Answer, 1e-9)
}

func TestFileDownloadNoDataLinks(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFileFetcher{}
	html := []byte(`<a href="/about.html">about</a>`)

	_, ok, err := NewFileDownload(fetcher, nil).Extract(context.Background(), quiz.Document{
		URL:  "https://quiz.example/q/4",
		HTML: html,
	})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDataFileLinksResolvesRelativeHrefs(t *testing.T) {
	t.Parallel()

	doc := quiz.Document{
		URL: "https://quiz.example/q/5/",
		HTML: []byte(`
<a href="files/data.csv">csv</a>
<a href="/abs/report.pdf">pdf</a>
<a href="https://other.example/sheet.xlsx">xlsx</a>
<a href="page.html">ignore</a>`),
	}

	links, err := dataFileLinks(doc)
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://quiz.example/q/5/files/data.csv",
		"https://quiz.example/abs/report.pdf",
		"https://other.example/sheet.xlsx",
	}, links)
}

func TestFileDownloadSumsPDFPage(t *testing.T) {
	t.Parallel()

	pdfData := buildPDF("Quarterly overview", "Values: 10 20 12.5")
	fetcher := &fakeFileFetcher{files: map[string][]byte{
		"https://quiz.example/q/report.pdf": pdfData,
	}}
	html := []byte(`<a href="report.pdf">report</a>`)

	sol, ok, err := NewFileDownload(fetcher, nil).Extract(context.Background(), quiz.Document{
		URL:  "https://quiz.example/q/6",
		HTML: html,
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 42.5, sol.Answer, 1e-9)
	require.InDelta(t, 0.9, sol.Confidence, 1e-9)
}

func TestFileDownloadPDFFallsBackToWholeDocument(t *testing.T) {
	t.Parallel()

	// One page only, so the configured page 2 does not exist and the
	// whole-document sum applies at the lower confidence.
	e := NewFileDownload(&fakeFileFetcher{}, nil)
	sol, ok, err := e.parsePDF(buildPDF("totals 7 8"))
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 15.0, sol.Answer, 1e-9)
	require.InDelta(t, 0.7, sol.Confidence, 1e-9)
}

// buildPDF assembles a minimal uncompressed PDF with one page per text,
// computing the xref offsets as it writes.
func buildPDF(pageTexts ...string) []byte {
	var buf bytes.Buffer
	var offsets []int
	writeObj := func(body string) {
		offsets = append(offsets, buf.Len())
		buf.WriteString(body)
	}

	buf.WriteString("%PDF-1.4\n")
	n := len(pageTexts)
	fontObj := 3 + 2*n

	kids := make([]string, n)
	for i := range pageTexts {
		kids[i] = fmt.Sprintf("%d 0 R", 3+i)
	}
	writeObj("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	writeObj(fmt.Sprintf("2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n",
		strings.Join(kids, " "), n))
	for i := range pageTexts {
		writeObj(fmt.Sprintf(
			"%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
				"/Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>\nendobj\n",
			3+i, fontObj, 3+n+i))
	}
	for i, text := range pageTexts {
		stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		writeObj(fmt.Sprintf("%d 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n",
			3+n+i, len(stream), stream))
	}
	writeObj(fmt.Sprintf("%d 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n",
		fontObj))

	xrefPos := buf.Len()
	total := fontObj + 1
	fmt.Fprintf(&buf, "xref\n0 %d\n", total)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", total, xrefPos)
	return buf.Bytes()
}

func TestSumTextNumbers(t *testing.T) {
	t.Parallel()

	sum, ok := sumTextNumbers("totals: 1,000 and 2.5 and 7")
	require.True(t, ok)
	require.InDelta(t, 1009.5, sum, 1e-9)

	_, ok = sumTextNumbers("no digits here")
	require.False(t, ok)
}
