// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"errors"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ErrTitleMarkup はタイトルにHTMLとして解釈されるマークアップが含まれることを表す。
var ErrTitleMarkup = errors.New("title must not contain HTML markup")

// TitleSanitizer はタスクタイトルを検査するインターフェース。
type TitleSanitizer interface {
	// Clean は連続する空白を1つにまとめ、前後の空白を除いたタイトルを返す。
	// それ以外の文字は変更しない。HTMLとして解釈するとテキストが失われる入力
	// （タグや "a<b" のようなタグに見える記述）はErrTitleMarkupを返す。
	// 同一入力に対して常に同一結果を返す。
	Clean(raw string) (string, error)
}

// titleSanitizer はbluemondayのStrictPolicyによるTitleSanitizerの実装。
// ポリシーは並行利用しても安全。
type titleSanitizer struct {
	policy *bluemonday.Policy
}

// NewTitleSanitizer はTitleSanitizerを生成する。
func NewTitleSanitizer() TitleSanitizer {
	return &titleSanitizer{policy: bluemonday.StrictPolicy()}
}

// Clean はStrictPolicyで除去した結果と入力のテキストを比べ、一致する場合のみ入力を返す。
// 文字実体はどちらも元の文字に戻して比較するため、"&" や "&amp;" はそのまま保存される。
func (s *titleSanitizer) Clean(raw string) (string, error) {
	normalized := collapseSpaces(raw)
	stripped := collapseSpaces(html.UnescapeString(s.policy.Sanitize(raw)))
	if stripped != collapseSpaces(html.UnescapeString(raw)) {
		return "", ErrTitleMarkup
	}
	return normalized, nil
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
