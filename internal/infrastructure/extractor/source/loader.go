package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/core/ports"
	"github.com/kirillkom/docextract/internal/infrastructure/chunking"
)

const defaultMaxBytes int64 = 32 << 20

type kind int

const (
	kindText kind = iota
	kindCSV
	kindPDF
	kindSpreadsheet
	kindImage
)

// Loader reads stored documents and turns them into text, rows or page
// images for the extraction engines.
type Loader struct {
	storage  ports.ObjectStorage
	splitter *chunking.Splitter
	maxBytes int64
}

func NewLoader(storage ports.ObjectStorage, splitter *chunking.Splitter, maxBytes int64) *Loader {
	if splitter == nil {
		splitter = chunking.NewSplitter(3)
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Loader{storage: storage, splitter: splitter, maxBytes: maxBytes}
}

func (l *Loader) Load(ctx context.Context, doc *domain.Document) (domain.SourceDocument, error) {
	raw, err := l.read(ctx, doc)
	if err != nil {
		return domain.SourceDocument{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.SourceDocument{}, err
	}

	detected := mimetype.Detect(raw)
	var src domain.SourceDocument
	switch k := classify(doc, detected); k {
	case kindPDF:
		src, err = loadPDF(raw)
	case kindSpreadsheet:
		src, err = loadSpreadsheet(raw)
	case kindCSV:
		src, err = loadCSV(raw)
	case kindImage:
		src = domain.SourceDocument{Images: [][]byte{raw}, Pages: 1}
	default:
		src, err = loadText(raw, doc.Filename)
	}
	if err != nil {
		return domain.SourceDocument{}, err
	}

	src.DocumentID = doc.ID
	src.MimeType = detected.String()
	src.SizeBytes = int64(len(raw))
	if src.Text != "" && len(src.Rows) == 0 {
		src.Preamble, src.TableLines = l.splitter.Split(src.Text)
	}
	slog.Debug("source_loaded",
		"document_id", doc.ID,
		"mime_type", src.MimeType,
		"pages", src.Pages,
		"rows", len(src.Rows),
		"table_lines", len(src.TableLines),
		"images", len(src.Images),
	)
	return src, nil
}

func (l *Loader) read(ctx context.Context, doc *domain.Document) ([]byte, error) {
	reader, err := l.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(io.LimitReader(reader, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read source document: %w", err)
	}
	if int64(len(raw)) > l.maxBytes {
		return nil, domain.WrapError(domain.ErrValidation, "read source document",
			fmt.Errorf("%s exceeds %d bytes", doc.Filename, l.maxBytes))
	}
	return raw, nil
}

// classify trusts the content first and falls back to the declared type and
// the file extension for formats that sniff as generic text or zip.
func classify(doc *domain.Document, detected *mimetype.MIME) kind {
	ext := strings.ToLower(filepath.Ext(doc.Filename))
	switch {
	case detected.Is("application/pdf"):
		return kindPDF
	case detected.Is("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"):
		return kindSpreadsheet
	case strings.HasPrefix(detected.String(), "image/"):
		return kindImage
	case detected.Is("text/csv"), ext == ".csv", strings.HasPrefix(doc.MimeType, "text/csv"):
		return kindCSV
	case detected.Is("application/zip") && ext == ".xlsx":
		return kindSpreadsheet
	default:
		return kindText
	}
}

func loadText(raw []byte, filename string) (domain.SourceDocument, error) {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(raw) {
		return domain.SourceDocument{}, domain.WrapError(domain.ErrValidation, "load text source",
			fmt.Errorf("unsupported binary format: %s", filename))
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return domain.SourceDocument{}, domain.WrapError(domain.ErrValidation, "load text source",
			errors.New("document is empty"))
	}
	return domain.SourceDocument{Text: text, Pages: 1}, nil
}
