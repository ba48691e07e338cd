// Package security は利用者入力と外部コンテンツの無害化、
// 外部URL取得時のSSRF防止を提供する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxTextPasses は多重にエスケープされた入力を展開する回数の上限。
const maxTextPasses = 4

// angleBrackets は無害化後のテキストに残さない文字。
var angleBrackets = strings.NewReplacer("<", "", ">", "")

// TextSanitizer は自由記述の入力からHTMLを取り除き、プレーンテキストとして返す。
// プロフィールの住所や寄付者名など、HTMLとして解釈されてはならない値に使う。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize は文字参照を展開してからタグを除去し、前後の空白を除去する。
// エスケープされたタグも展開後に除去される。結果に山括弧は含まれず、&や'はそのまま残る。
// 同一入力に対して常に同一出力を返し、出力を再度渡しても変化しない。
func (s *TextSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	text := html.UnescapeString(s.policy.Sanitize(unescapeAll(raw)))
	return strings.TrimSpace(angleBrackets.Replace(text))
}

// unescapeAll は多重にエスケープされた文字参照を上限回数まで展開する。
func unescapeAll(s string) string {
	for i := 0; i < maxTextPasses; i++ {
		next := html.UnescapeString(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

// EventHTMLSanitizer はフィードから取り込んだ行事説明のHTMLを無害化する。
type EventHTMLSanitizer struct {
	policy *bluemonday.Policy
}

// NewEventHTMLSanitizer はEventHTMLSanitizerを生成する。
// 段落・改行・強調・リストとhttpsのリンクのみを許可し、
// リンクには target="_blank" と rel="noopener noreferrer" を付与する。
func NewEventHTMLSanitizer() *EventHTMLSanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "strong", "em", "ul", "ol", "li")
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("https")
	p.AllowRelativeURLs(false)
	p.RequireParseableURLs(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)
	return &EventHTMLSanitizer{policy: p}
}

// Sanitize は許可リスト外のタグと属性を除去したHTMLを返す。
func (s *EventHTMLSanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}
