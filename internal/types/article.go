package types

// FAQEntry is one question/answer pair attached to an article
type FAQEntry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Article is a generated or rewritten HTML article with its SEO fields
type Article struct {
	SEOTitle          string     `json:"seo_title"`
	MetaDescription   string     `json:"meta_description"`
	WordpressExcerpt  string     `json:"wordpress_excerpt"`
	HTMLContent       string     `json:"html_content"`
	ImageURL          string     `json:"image_url,omitempty"`
	ImagePrompt       string     `json:"image_prompt,omitempty"`
	FAQ               []FAQEntry `json:"faq,omitempty"`
	SecondaryKeywords []string   `json:"secondary_keywords,omitempty"`
	WordCount         int        `json:"word_count"`
}

// ArticleMetadata is the sidecar document stored next to an article's HTML
type ArticleMetadata struct {
	SEOTitle          string     `json:"seo_title"`
	MetaDescription   string     `json:"meta_description"`
	WordpressExcerpt  string     `json:"wordpress_excerpt"`
	ImageURL          string     `json:"image_url"`
	FAQ               []FAQEntry `json:"faq_json"`
	SecondaryKeywords []string   `json:"secondary_keywords"`
	WordCount         int        `json:"word_count"`
}

// Metadata returns the sidecar metadata for the article
func (a *Article) Metadata() ArticleMetadata {
	faq := a.FAQ
	if faq == nil {
		faq = []FAQEntry{}
	}
	keywords := a.SecondaryKeywords
	if keywords == nil {
		keywords = []string{}
	}
	return ArticleMetadata{
		SEOTitle:          a.SEOTitle,
		MetaDescription:   a.MetaDescription,
		WordpressExcerpt:  a.WordpressExcerpt,
		ImageURL:          a.ImageURL,
		FAQ:               faq,
		SecondaryKeywords: keywords,
		WordCount:         a.WordCount,
	}
}

// PageSnapshot is the extracted text and structure of a fetched page
type PageSnapshot struct {
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Headings    []string `json:"headings,omitempty"`
	Text        string   `json:"text"`
	Links       []string `json:"links,omitempty"`
	WordCount   int      `json:"word_count"`
}

// SiteSnapshot aggregates the pages scraped for a scratch article
type SiteSnapshot struct {
	Home          PageSnapshot   `json:"home"`
	InternalPages []PageSnapshot `json:"internal_pages,omitempty"`
	ExternalPages []PageSnapshot `json:"external_pages,omitempty"`
}

// ContentAnalysis is the editorial brief derived from a site snapshot
type ContentAnalysis struct {
	Tone              string   `json:"tone"`
	Audience          string   `json:"audience"`
	SecondaryKeywords []string `json:"secondary_keywords"`
	Outline           []string `json:"outline"`
	SearchIntent      string   `json:"search_intent"`
}

// SatelliteTheme is one planned satellite article in a cluster
type SatelliteTheme struct {
	Title   string `json:"title"`
	Keyword string `json:"keyword"`
	Angle   string `json:"angle"`
}

// ClusterPlan is the analysis of a pillar article and its satellites
type ClusterPlan struct {
	Pillar          PageSnapshot     `json:"pillar"`
	MainTopic       string           `json:"main_topic"`
	SatelliteThemes []SatelliteTheme `json:"satellite_themes"`
}

// Link is one directed internal link inside a cluster
type Link struct {
	From string `json:"from"`
	To   string `json:"to"`
}
