package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/jinford/study-rag/internal/core/answer"
	"github.com/jinford/study-rag/internal/core/conversation"
	"github.com/jinford/study-rag/internal/core/document"
	"github.com/jinford/study-rag/internal/core/retrieval"
)

const timeLayout = "2006-01-02 15:04"

// renderDocumentsTable はテーブル形式でドキュメント一覧を表示します
func renderDocumentsTable(docs []*document.Document) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Title", "File", "Words", "Embedding", "Updated At")

	for _, doc := range docs {
		table.Append(
			doc.ID.String(),
			truncateString(doc.Title, 40),
			valueOrDash(doc.FileName),
			fmt.Sprintf("%d", doc.WordCount),
			yesNo(doc.HasEmbedding()),
			doc.UpdatedAt.Format(timeLayout),
		)
	}

	table.Render()
}

// renderDocumentDetail はドキュメントの詳細を表示します
func renderDocumentDetail(doc *document.Document, full bool) {
	fmt.Printf("\n=== ドキュメント詳細 ===\n\n")
	fmt.Printf("ID:          %s\n", doc.ID)
	fmt.Printf("Title:       %s\n", doc.Title)
	fmt.Printf("File:        %s\n", valueOrDash(doc.FileName))
	if doc.SubjectID != nil {
		fmt.Printf("Subject:     %s\n", doc.SubjectID)
	}
	fmt.Printf("Words:       %d\n", doc.WordCount)
	if doc.PageCount > 0 {
		fmt.Printf("Pages:       %d\n", doc.PageCount)
	}
	fmt.Printf("Embedding:   %s\n", yesNo(doc.HasEmbedding()))
	fmt.Printf("Created At:  %s\n", doc.CreatedAt.Format(timeLayout))
	fmt.Printf("Updated At:  %s\n", doc.UpdatedAt.Format(timeLayout))

	content := doc.Content
	if !full {
		content = truncateString(content, 500)
	}
	fmt.Printf("\n--- 本文 ---\n%s\n", content)
}

// renderConversationsTable はテーブル形式で会話一覧を表示します
func renderConversationsTable(convs []*conversation.Conversation) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Title", "Subject", "Updated At")

	for _, conv := range convs {
		subject := "-"
		if conv.SubjectID != nil {
			subject = conv.SubjectID.String()
		}
		table.Append(
			conv.ID.String(),
			truncateString(conv.Title, 50),
			subject,
			conv.UpdatedAt.Format(timeLayout),
		)
	}

	table.Render()
}

// renderConversationDetail は会話のメッセージを時系列で表示します
func renderConversationDetail(detail *conversation.Detail) {
	fmt.Printf("\n=== %s ===\n", detail.Conversation.Title)
	fmt.Printf("ID: %s\n\n", detail.Conversation.ID)

	for _, msg := range detail.Messages {
		fmt.Printf("[%s] %s\n", msg.CreatedAt.Format(timeLayout), msg.Role)
		if structured, ok := msg.StructuredResponse(); ok {
			renderSegments(structured.Response)
		} else {
			fmt.Println(msg.Content)
		}
		fmt.Println()
	}
}

// renderAnswer は構造化回答をセグメントごとに出典付きで表示します
func renderAnswer(data conversation.AntiHallucinationData) {
	resp := data.StructuredResponse
	fmt.Println()
	renderSegments(resp.Response)

	fmt.Printf("\n資料の利用率: %d%%  平均信頼度: %.2f  モデル: %s",
		resp.Metadata.FileUsagePercentage,
		resp.Metadata.AverageConfidence,
		data.Model,
	)
	if data.UsedFallback {
		fmt.Print("（フォールバック）")
	}
	fmt.Println()
}

func renderSegments(segments []answer.Segment) {
	for _, seg := range segments {
		label := "一般知識"
		if seg.Type == answer.SegmentFromFile {
			label = "資料: " + valueOrDash(seg.SourceDocumentTitle)
		}
		fmt.Printf("  %s\n    └ %s (%.2f)\n", seg.Text, label, seg.Confidence)
	}
}

// renderSources は回答に使われた検索結果を表示します
func renderSources(sources []conversation.SourceInfo) {
	if len(sources) == 0 {
		return
	}
	fmt.Println("\n--- 参照ドキュメント ---")
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Document ID", "Title", "File", "Similarity")
	for _, s := range sources {
		table.Append(
			s.DocumentID.String(),
			truncateString(s.Title, 40),
			valueOrDash(s.FileName),
			fmt.Sprintf("%.3f", s.Similarity),
		)
	}
	table.Render()
}

// renderRetrievedTable は検索結果を関連度付きで表示します
func renderRetrievedTable(docs []retrieval.RetrievedDocument) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Document ID", "Title", "Similarity", "Preview")
	for _, d := range docs {
		table.Append(
			d.ID.String(),
			truncateString(d.Title, 40),
			fmt.Sprintf("%.3f", d.Similarity),
			truncateString(strings.Join(strings.Fields(d.Content), " "), 60),
		)
	}
	table.Render()
}

// truncateString は文字数（ルーン数）で切り詰める
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

func valueOrDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
