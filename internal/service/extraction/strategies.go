package extraction

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"path"
	"strings"

	"golang.org/x/net/html"

	"github.com/wikiguard/pii-scan-backend/internal/domain/content"
	"github.com/wikiguard/pii-scan-backend/internal/domain/errors"
)

// Strategy extracts text from one family of attachment formats. Strategies
// are probed in registration order; the first whose Supports returns true
// handles the attachment.
type Strategy interface {
	Name() string
	Supports(att content.Attachment) bool
	Extract(ctx context.Context, att content.Attachment, data []byte) (string, error)
}

func extOf(att content.Attachment) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(att.Name), "."))
}

// plainTextStrategy passes through text-like formats verbatim.
type plainTextStrategy struct{}

func (plainTextStrategy) Name() string { return "plain_text" }

func (plainTextStrategy) Supports(att content.Attachment) bool {
	switch extOf(att) {
	case "txt", "log", "json", "yaml", "yml", "xml", "md":
		return true
	}
	return strings.HasPrefix(att.MediaType, "text/plain") ||
		att.MediaType == "application/json"
}

func (plainTextStrategy) Extract(_ context.Context, _ content.Attachment, data []byte) (string, error) {
	return string(data), nil
}

// htmlStrategy strips markup and keeps the visible text.
type htmlStrategy struct{}

func (htmlStrategy) Name() string { return "html" }

func (htmlStrategy) Supports(att content.Attachment) bool {
	switch extOf(att) {
	case "html", "htm":
		return true
	}
	return strings.HasPrefix(att.MediaType, "text/html")
}

func (htmlStrategy) Extract(_ context.Context, att content.Attachment, data []byte) (string, error) {
	text, err := StripHTML(string(data))
	if err != nil {
		return "", errors.NewExtractionError("failed to parse HTML attachment " + att.Name).WithCause(err)
	}
	return text, nil
}

// StripHTML tokenizes markup and returns the visible text with single-space
// separation. Script and style bodies are skipped.
func StripHTML(markup string) (string, error) {
	tokenizer := html.NewTokenizer(strings.NewReader(markup))

	var b strings.Builder
	skipDepth := 0
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			if tokenizer.Err() == io.EOF {
				return strings.Join(strings.Fields(b.String()), " "), nil
			}
			return "", tokenizer.Err()
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if tag := string(name); (tag == "script" || tag == "style") && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(tokenizer.Text())
				b.WriteByte(' ')
			}
		}
	}
}

// csvStrategy flattens delimiter-separated values into analyzable lines.
type csvStrategy struct{}

func (csvStrategy) Name() string { return "csv" }

func (csvStrategy) Supports(att content.Attachment) bool {
	switch extOf(att) {
	case "csv", "tsv":
		return true
	}
	return strings.HasPrefix(att.MediaType, "text/csv") ||
		strings.HasPrefix(att.MediaType, "text/tab-separated-values")
}

func (c csvStrategy) Extract(_ context.Context, att content.Attachment, data []byte) (string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	if extOf(att) == "tsv" || strings.HasPrefix(att.MediaType, "text/tab-separated-values") {
		reader.Comma = '\t'
	}
	reader.FieldsPerRecord = -1

	var b strings.Builder
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return b.String(), nil
		}
		if err != nil {
			return "", errors.NewExtractionError("failed to parse CSV attachment " + att.Name).WithCause(err)
		}
		b.WriteString(strings.Join(record, " "))
		b.WriteByte('\n')
	}
}
