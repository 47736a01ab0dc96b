package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"

	"github.com/jonathan/seo-workflows/internal/types"
)

var documentTemplate = template.Must(template.New("article").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Article.SEOTitle}}</title>
<meta name="description" content="{{.Article.MetaDescription}}">
{{- if .FAQSchema}}
<script type="application/ld+json">{{.FAQSchema}}</script>
{{- end}}
</head>
<body>
<article>
<h1>{{.Article.SEOTitle}}</h1>
{{- if .Article.ImageURL}}
<figure><img src="{{.Article.ImageURL}}" alt="{{.Article.SEOTitle}}"></figure>
{{- end}}
{{.Body}}
{{- if .Article.FAQ}}
<section class="faq">
<h2>FAQ</h2>
{{- range .Article.FAQ}}
<div class="faq-item">
<h3>{{.Question}}</h3>
<p>{{.Answer}}</p>
</div>
{{- end}}
</section>
{{- end}}
{{- if .Related}}
<aside class="related">
<h2>{{.RelatedHeading}}</h2>
<ul>
{{- range .Related}}
<li><a href="{{.Href}}">{{.Title}}</a></li>
{{- end}}
</ul>
</aside>
{{- end}}
</article>
</body>
</html>
`))

// RelatedLink is one entry of a rendered "related articles" list
type RelatedLink struct {
	Href  string
	Title string
}

type documentData struct {
	Article        *types.Article
	Body           template.HTML
	FAQSchema      template.JS
	Related        []RelatedLink
	RelatedHeading string
}

// RenderHTML renders an article as a standalone HTML document. The article body is
// model-produced HTML and is emitted as-is; every other field is escaped.
func RenderHTML(a *types.Article, related ...RelatedLink) ([]byte, error) {
	data := documentData{
		Article:        a,
		Body:           template.HTML(a.HTMLContent),
		Related:        related,
		RelatedHeading: "Related articles",
	}
	if len(a.FAQ) > 0 {
		schema, err := faqSchema(a.FAQ)
		if err != nil {
			return nil, err
		}
		data.FAQSchema = template.JS(schema)
	}

	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render article: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderMetadata renders the metadata sidecar of an article
func RenderMetadata(a *types.Article) ([]byte, error) {
	b, err := json.MarshalIndent(a.Metadata(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return b, nil
}

func faqSchema(faq []types.FAQEntry) (string, error) {
	type answer struct {
		Type string `json:"@type"`
		Text string `json:"text"`
	}
	type question struct {
		Type   string `json:"@type"`
		Name   string `json:"name"`
		Answer answer `json:"acceptedAnswer"`
	}
	doc := struct {
		Context string     `json:"@context"`
		Type    string     `json:"@type"`
		Main    []question `json:"mainEntity"`
	}{Context: "https://schema.org", Type: "FAQPage"}

	for _, e := range faq {
		doc.Main = append(doc.Main, question{Type: "Question", Name: e.Question, Answer: answer{Type: "Answer", Text: e.Answer}})
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode FAQ schema: %w", err)
	}
	return string(b), nil
}
