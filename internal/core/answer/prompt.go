package answer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jinford/study-rag/internal/core/retrieval"
)

const (
	// MaxHistoryMessages は生成に渡す会話履歴の最大件数
	MaxHistoryMessages = 10

	// MaxDocumentChars はプロンプトに含めるドキュメント本文の最大文字数
	MaxDocumentChars = 2000
)

// ChatMessage はモデルに渡すメッセージ
type ChatMessage struct {
	Role    Role
	Content string
}

// TokenCounter はテキストのトークン数を数える
type TokenCounter interface {
	CountTokens(text string) int
}

// ContextBudget はプロンプトに含めるドキュメント本文の合計トークン上限。
// Counter が nil か MaxTokens が0以下なら制限しない
type ContextBudget struct {
	Counter   TokenCounter
	MaxTokens int
}

func (b ContextBudget) enabled() bool {
	return b.Counter != nil && b.MaxTokens > 0
}

// BuildSystemPrompt は検索結果のカタログと本文、出典付与のルールを含むシステムプロンプトを構築する
func BuildSystemPrompt(docs []retrieval.RetrievedDocument) string {
	return BuildSystemPromptWithBudget(docs, ContextBudget{})
}

// BuildSystemPromptWithBudget は BuildSystemPrompt と同じプロンプトを構築し、
// 本文を検索順に budget へ収まるよう切り詰める。カタログには全ドキュメントを残す
func BuildSystemPromptWithBudget(docs []retrieval.RetrievedDocument, budget ContextBudget) string {
	var sb strings.Builder

	sb.WriteString("You are a study assistant that answers questions using the student's own study materials.\n")
	sb.WriteString("Split your answer into segments and label every segment with where its information came from.\n\n")

	sb.WriteString("## Attribution rules\n")
	sb.WriteString("- Use type \"from_file\" only when the segment is directly supported by one of the documents below.\n")
	sb.WriteString("- A \"from_file\" segment must set sourceDocumentId and sourceDocumentTitle to the exact id and title listed below.\n")
	sb.WriteString("- Use type \"generated\" for general knowledge, explanations or connective text, with sourceDocumentId and sourceDocumentTitle set to null.\n")
	sb.WriteString("- Never cite a document that is not listed below.\n")
	sb.WriteString("- confidence is a number between 0 and 1 describing how certain you are of the segment.\n")
	sb.WriteString("- Prefer the student's materials over general knowledge when both apply.\n\n")

	sb.WriteString("## Output format\n")
	sb.WriteString("Return a JSON object with a non-empty \"response\" array of segments ")
	sb.WriteString("{text, type, sourceDocumentId, sourceDocumentTitle, confidence} and a \"metadata\" object summarizing them.\n\n")

	sb.WriteString("## Available documents\n")
	if len(docs) == 0 {
		sb.WriteString("(The student has no matching documents. Answer from general knowledge and mark every segment as \"generated\".)\n")
		return sb.String()
	}
	for _, d := range docs {
		sb.WriteString(fmt.Sprintf("- id: %s | title: %s\n", d.ID.String(), d.Title))
	}
	sb.WriteString("\n")

	sb.WriteString("## Document contents\n")
	remaining := budget.MaxTokens
	for i, d := range docs {
		sb.WriteString(fmt.Sprintf("### [Document %d] %s\n", i+1, d.Title))
		sb.WriteString(fmt.Sprintf("id: %s\n", d.ID.String()))
		sb.WriteString(fmt.Sprintf("relevance: %.2f\n", d.Similarity))

		content := truncateRunes(d.Content, MaxDocumentChars)
		if budget.enabled() {
			if remaining <= 0 {
				sb.WriteString("(content omitted to fit the context limit)\n\n")
				continue
			}
			var cut bool
			content, cut = fitTokens(budget.Counter, content, remaining)
			remaining -= budget.Counter.CountTokens(content)
			if cut {
				content += "..."
				remaining = 0
			}
		}

		sb.WriteString("```\n")
		sb.WriteString(content)
		sb.WriteString("\n```\n\n")
	}

	return sb.String()
}

// BuildMessages は会話履歴と今回のユーザー発話からモデルに渡すメッセージ列を構築する。
// 履歴は直近 MaxHistoryMessages 件に絞り、アシスタントの保存済み構造化回答は平文に戻す
func BuildMessages(history []HistoryMessage, userMessage string) []ChatMessage {
	if len(history) > MaxHistoryMessages {
		history = history[len(history)-MaxHistoryMessages:]
	}

	messages := make([]ChatMessage, 0, len(history)+1)
	for _, h := range history {
		content := h.Content
		if h.Role == RoleAssistant {
			content = FlattenContent(content)
		}
		messages = append(messages, ChatMessage{Role: h.Role, Content: content})
	}
	messages = append(messages, ChatMessage{Role: RoleUser, Content: userMessage})

	return messages
}

// FlattenContent は保存済みの構造化回答であればセグメント本文を連結した平文を返し、
// そうでなければそのまま返す
func FlattenContent(content string) string {
	if resp, ok := ParseStoredResponse(content); ok {
		return resp.PlainText()
	}
	return content
}

// fitTokens は content を limit トークン以内に収まる最長の先頭部分に切り詰める
func fitTokens(counter TokenCounter, content string, limit int) (string, bool) {
	if counter.CountTokens(content) <= limit {
		return content, false
	}
	runes := []rune(content)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if counter.CountTokens(string(runes[:mid])) <= limit {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo]), true
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}
