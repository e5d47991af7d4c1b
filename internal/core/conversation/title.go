package conversation

import (
	"strings"
)

// TitleFromMessage はメッセージ先頭の語から会話タイトルを作る。
// titleWords 語を超える場合は "..." を付ける
func TitleFromMessage(content string) string {
	words := strings.Fields(content)
	if len(words) == 0 {
		return DefaultTitle
	}
	if len(words) <= titleWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:titleWords], " ") + "..."
}
