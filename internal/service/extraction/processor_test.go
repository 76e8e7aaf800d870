package extraction

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wikiguard/pii-scan-backend/internal/domain/content"
	"github.com/wikiguard/pii-scan-backend/internal/infrastructure/config"
)

func testConfig() *config.ExtractionConfig {
	return &config.ExtractionConfig{
		MinTextLength:     10,
		MinAlnumRatio:     0.3,
		MinSpaceRatio:     0.05,
		MinPrintableRatio: 0.9,
		MaxSpecialRatio:   0.3,
	}
}

func newTestProcessor(t *testing.T) *Processor {
	t.Helper()
	return NewProcessor(testConfig(), zaptest.NewLogger(t))
}

func att(name, mediaType string) content.Attachment {
	return content.Attachment{ID: "a1", PageID: "p1", Name: name, MediaType: mediaType}
}

func TestProcessor_PlainText(t *testing.T) {
	p := newTestProcessor(t)

	text, err := p.Process(context.Background(), att("notes.txt", "text/plain"),
		[]byte("the customer email is a@b.com"))
	require.NoError(t, err)
	assert.Equal(t, "the customer email is a@b.com", text)
}

func TestProcessor_HTML(t *testing.T) {
	p := newTestProcessor(t)

	markup := `<html><head><style>body { color: red }</style>
		<script>var secret = "nope";</script></head>
		<body><h1>Contacts</h1><p>reach us at <b>a@b.com</b> any time</p></body></html>`

	text, err := p.Process(context.Background(), att("page.html", "text/html"), []byte(markup))
	require.NoError(t, err)
	assert.Contains(t, text, "reach us at a@b.com any time")
	assert.NotContains(t, text, "color: red")
	assert.NotContains(t, text, "secret")
}

func TestProcessor_CSV(t *testing.T) {
	p := newTestProcessor(t)

	data := "name,email\nJohn Smith,john@corp.example\nJane Doe,jane@corp.example\n"
	text, err := p.Process(context.Background(), att("contacts.csv", "text/csv"), []byte(data))
	require.NoError(t, err)
	assert.Contains(t, text, "John Smith john@corp.example")
	assert.Contains(t, text, "Jane Doe jane@corp.example")
}

func TestProcessor_TSVUsesTabDelimiter(t *testing.T) {
	p := newTestProcessor(t)

	data := "name\temail\nJohn Smith\tjohn@corp.example\n"
	text, err := p.Process(context.Background(), att("contacts.tsv", ""), []byte(data))
	require.NoError(t, err)
	assert.Contains(t, text, "John Smith john@corp.example")
}

func TestProcessor_UnsupportedFormatYieldsEmpty(t *testing.T) {
	p := newTestProcessor(t)

	text, err := p.Process(context.Background(), att("photo.png", "image/png"),
		[]byte{0x89, 0x50, 0x4e, 0x47})
	require.NoError(t, err)
	assert.Empty(t, text)
	assert.False(t, p.Supported(att("photo.png", "image/png")))
}

func TestProcessor_QualityGate(t *testing.T) {
	p := newTestProcessor(t)
	ctx := context.Background()

	tests := []struct {
		name string
		data string
		want bool
	}{
		{"normal prose passes", "the quick brown fox jumps over the lazy dog", true},
		{"too short", "short", false},
		{"no spaces", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", false},
		{"mostly symbols", "#### $$$$ %%%% ^^^^ &&&& **** ~~~~ ]]]]", false},
		{"binary garbage", "ab\x00\x01\x02\x03\x04\x05\x06\x07 cd\x00\x01\x02\x03\x04\x05", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := p.Process(ctx, att("f.txt", "text/plain"), []byte(tt.data))
			require.NoError(t, err)
			if tt.want {
				assert.NotEmpty(t, text)
			} else {
				assert.Empty(t, text)
			}
		})
	}
}

func TestProcessor_RegistrationOrder(t *testing.T) {
	p := newTestProcessor(t)

	// Markdown matches the plain text strategy before anything else, so
	// markup characters survive.
	text, err := p.Process(context.Background(), att("README.md", ""),
		[]byte("# Title\n\nsome *bold* statement about a@b.com"))
	require.NoError(t, err)
	assert.Contains(t, text, "*bold*")
}

type fakeBinaryStrategy struct{ called bool }

func (f *fakeBinaryStrategy) Name() string { return "fake_pdf" }
func (f *fakeBinaryStrategy) Supports(a content.Attachment) bool {
	return strings.HasSuffix(a.Name, ".pdf")
}
func (f *fakeBinaryStrategy) Extract(_ context.Context, _ content.Attachment, _ []byte) (string, error) {
	f.called = true
	return "extracted pdf body with email a@b.com inside", nil
}

func TestProcessor_RegisterDelegatesBinaryFormats(t *testing.T) {
	p := newTestProcessor(t)
	fake := &fakeBinaryStrategy{}
	p.Register(fake)

	text, err := p.Process(context.Background(), att("report.pdf", "application/pdf"),
		[]byte("%PDF-1.7"))
	require.NoError(t, err)
	assert.True(t, fake.called)
	assert.Contains(t, text, "a@b.com")
}
