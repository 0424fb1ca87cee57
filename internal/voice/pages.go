// Package voice は音声練習サービスの案内ページを提供する。
// ページはMarkdownとしてバイナリに埋め込み、起動時に一度だけHTMLへ変換する。
package voice

import (
	"bufio"
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/uternity/gateway/internal/security"
)

//go:embed pages/*.md
var pageFS embed.FS

// shellTemplate は案内ページのHTML外枠。本文はサニタイズ済みHTMLとして埋め込む。
var shellTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}} | UTERNITY</title>
<style>
body{font-family:system-ui,sans-serif;max-width:860px;margin:2rem auto;padding:0 1rem;line-height:1.6;color:#1f2937}
table{border-collapse:collapse;width:100%}th,td{border:1px solid #d1d5db;padding:.4rem .6rem;text-align:left}
h1{color:#4338ca}
</style>
</head>
<body>
<main>
{{.Body}}
</main>
</body>
</html>
`))

// Page はレンダリング済みの案内ページ。
type Page struct {
	Slug  string
	Title string
	HTML  []byte
}

// Pages はスラッグをキーとした案内ページの集合。生成後は読み取り専用。
type Pages struct {
	pages map[string]*Page
}

// NewPages は埋め込まれたMarkdownを全てレンダリングしてPagesを生成する。
func NewPages(sanitizer security.ContentSanitizerService) (*Pages, error) {
	return loadPages(pageFS, "pages", sanitizer)
}

// loadPages はfsys内のdir直下にある*.mdをレンダリングする。
func loadPages(fsys fs.FS, dir string, sanitizer security.ContentSanitizerService) (*Pages, error) {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithXHTML(),
		),
	)

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read page directory: %w", err)
	}

	pages := &Pages{pages: make(map[string]*Page)}
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".md" {
			continue
		}

		source, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read page %s: %w", entry.Name(), err)
		}

		page, err := renderPage(md, sanitizer, strings.TrimSuffix(entry.Name(), ".md"), source)
		if err != nil {
			return nil, err
		}
		pages.pages[page.Slug] = page
	}

	return pages, nil
}

// renderPage はMarkdownをHTMLに変換し、サニタイズして外枠に埋め込む。
func renderPage(md goldmark.Markdown, sanitizer security.ContentSanitizerService, slug string, source []byte) (*Page, error) {
	var body bytes.Buffer
	if err := md.Convert(source, &body); err != nil {
		return nil, fmt.Errorf("failed to convert page %s: %w", slug, err)
	}

	title := extractTitle(source)
	if title == "" {
		title = slug
	}

	var out bytes.Buffer
	err := shellTemplate.Execute(&out, struct {
		Title string
		Body  template.HTML
	}{
		Title: title,
		Body:  template.HTML(sanitizer.Sanitize(body.String())),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render page %s: %w", slug, err)
	}

	return &Page{Slug: slug, Title: title, HTML: out.Bytes()}, nil
}

// extractTitle は最初のレベル1見出しを返す。
func extractTitle(source []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(source))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}

// Get はスラッグに対応するページを返す。
func (p *Pages) Get(slug string) (*Page, bool) {
	page, ok := p.pages[slug]
	return page, ok
}

// Slugs は全ページのスラッグを昇順で返す。
func (p *Pages) Slugs() []string {
	slugs := make([]string, 0, len(p.pages))
	for slug := range p.pages {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}
