package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding は OpenAI のチャットモデルと互換のエンコーディング
const DefaultEncoding = "cl100k_base"

// Counter はトークン数をカウントする機能を提供する
type Counter struct {
	encoding *tiktoken.Tiktoken
}

// NewCounter は新しい Counter を作成する
// cl100k_baseエンコーディングを使用する
func NewCounter() (*Counter, error) {
	encoding, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}
	return &Counter{encoding: encoding}, nil
}

// NewEstimator はエンコーディングを持たず、推定値のみを返す Counter を作成する
func NewEstimator() *Counter {
	return &Counter{}
}

// CountTokens はテキストのトークン数をカウントする
func (c *Counter) CountTokens(text string) int {
	if c == nil || c.encoding == nil {
		return EstimateTokens(text)
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// EstimateTokens はテキストの推定トークン数を返す
// 正確にカウントせず、文字数を基準に大まかな値を返す
func EstimateTokens(text string) int {
	n := len([]rune(text))
	if n == 0 {
		return 0
	}
	// 英語は約4文字、日本語は約1文字で1トークン。平均として3文字で1トークンとする
	return max(1, n/3)
}
