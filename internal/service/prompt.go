package service

import (
	"bytes"
	"embed"
	"fmt"
	"slices"
	"strings"
	"text/template"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/Strob0t/ModGuard/internal/domain/moderation"
	"github.com/Strob0t/ModGuard/internal/domain/scoring"
	"github.com/Strob0t/ModGuard/internal/similarity"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var promptTemplates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// matchLine is one numbered similarity match rendered into a prompt.
type matchLine struct {
	N        int
	Score    float64
	Category string
	Severity string
	Decision string
	Text     string
}

type moderationPromptData struct {
	ContentType string
	Content     string
	Categories  string
	Flagged     []matchLine
	Historical  []matchLine
	Policies    []matchLine
}

type appealPromptData struct {
	ContentType      string
	Content          string
	Category         string
	Decision         string
	Reasoning        string
	Confidence       float64
	Explanation      string
	NewEvidence      string
	TotalCases       int
	RecentViolations int
	Similar          []matchLine
}

// Prompt context limits.
const (
	maxFlaggedLines    = 3
	maxHistoricalLines = 3
	maxAppealSimilar   = 2
	policyExcerptLen   = 200
)

func renderTemplate(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := promptTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("execute %s template: %w", name, err)
	}
	return buf.String(), nil
}

// systemPrompt returns override when set, otherwise the embedded template.
func systemPrompt(name, override string) (string, error) {
	if strings.TrimSpace(override) != "" {
		return override, nil
	}
	s, err := renderTemplate(name, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

func buildModerationPrompt(st *ModerationState, actions scoring.ActionTable) (string, error) {
	data := moderationPromptData{
		ContentType: string(st.ContentType),
		Content:     sanitizePromptInput(st.Text),
		Categories:  strings.Join(categoryNames(actions), "/"),
	}
	if st.Related != nil {
		for i, m := range firstN(st.Related.Flagged, maxFlaggedLines) {
			data.Flagged = append(data.Flagged, matchLine{
				N:        i + 1,
				Score:    m.Score,
				Category: metaString(m.Metadata, metaCategory, "unknown"),
				Severity: metaString(m.Metadata, metaSeverity, "unknown"),
			})
		}
		for i, m := range firstN(st.Related.Historical, maxHistoricalLines) {
			data.Historical = append(data.Historical, matchLine{
				N:        i + 1,
				Score:    m.Score,
				Decision: metaString(m.Metadata, metaDecision, "unknown"),
				Category: metaString(m.Metadata, metaCategory, "none"),
			})
		}
		for i, m := range st.Related.Policies {
			data.Policies = append(data.Policies, matchLine{
				N:    i + 1,
				Text: truncate(m.Text, policyExcerptLen),
			})
		}
	}
	return renderTemplate("moderation_user.tmpl", data)
}

func buildAppealPrompt(st *AppealState) (string, error) {
	c := st.Original
	data := appealPromptData{
		ContentType:      string(c.ContentType),
		Content:          sanitizePromptInput(c.Content),
		Category:         orDefault(c.Category, "N/A"),
		Decision:         string(c.Decision),
		Reasoning:        sanitizePromptInput(c.Reasoning),
		Confidence:       c.Confidence,
		Explanation:      sanitizePromptInput(st.UserExplanation),
		NewEvidence:      orDefault(sanitizePromptInput(st.NewEvidence), "None provided"),
		TotalCases:       st.AuthorCases,
		RecentViolations: st.PriorRejections,
	}
	for i, m := range firstN(st.Similar, maxAppealSimilar) {
		data.Similar = append(data.Similar, matchLine{
			N:        i + 1,
			Score:    m.Score,
			Decision: metaString(m.Metadata, metaDecision, "unknown"),
		})
	}
	return renderTemplate("appeal_user.tmpl", data)
}

// categoryNames lists the categories of the action table in a stable order.
func categoryNames(actions scoring.ActionTable) []string {
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func firstN(ms []similarity.Match, n int) []similarity.Match {
	if len(ms) > n {
		return ms[:n]
	}
	return ms
}

func metaString(md map[string]any, key, def string) string {
	if v, ok := md[key]; ok {
		if s := fmt.Sprint(v); s != "" {
			return s
		}
	}
	return def
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// sanitizePromptInput strips control characters and common prompt injection
// patterns from user-supplied text before it is embedded in an LLM prompt.
func sanitizePromptInput(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)

	// Role markers at line starts could be read as instructions.
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(strings.ToLower(line))
		for _, prefix := range []string{
			"system:", "assistant:", "user:", "[system]", "[assistant]",
			"<|system|>", "<|assistant|>", "<|im_start|>",
			"### system", "### assistant", "### instruction",
			"violation:", "confidence:",
		} {
			if strings.HasPrefix(trimmed, prefix) {
				lines[i] = "[sanitized] " + line
				break
			}
		}
	}
	s = strings.Join(lines, "\n")

	const maxInputLen = 10000
	if len(s) > maxInputLen {
		s = s[:maxInputLen] + "\n[truncated]"
	}
	return s
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// normalizeContent reduces HTML submissions to their visible text.
// Plain text is only trimmed.
func normalizeContent(contentType moderation.ContentType, raw string) string {
	if !looksLikeHTML(raw) {
		return strings.TrimSpace(raw)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	doc.Find("script, style, noscript").Remove()

	var parts []string
	if text := strings.Join(strings.Fields(doc.Text()), " "); text != "" {
		parts = append(parts, text)
	}
	// Alt text and link targets carry content that Text() drops.
	doc.Find("img[alt]").Each(func(_ int, sel *goquery.Selection) {
		if alt := strings.TrimSpace(sel.AttrOr("alt", "")); alt != "" {
			parts = append(parts, "[image: "+alt+"]")
		}
	})
	if contentType != moderation.ContentPhoto {
		doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
			if href := strings.TrimSpace(sel.AttrOr("href", "")); href != "" {
				parts = append(parts, "[link: "+href+"]")
			}
		})
	}
	return strings.Join(parts, "\n")
}

func looksLikeHTML(s string) bool {
	i := strings.IndexByte(s, '<')
	return i >= 0 && strings.IndexByte(s[i:], '>') > 0
}
