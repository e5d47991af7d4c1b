package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"
	"github.com/openai/openai-go/v3/shared"

	"github.com/jinford/study-rag/internal/core/answer"
)

var (
	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("OpenAI API key not set: please set OPENAI_API_KEY environment variable")

	// ErrNoChoices はレスポンスに候補が含まれない場合のエラー
	ErrNoChoices = errors.New("no completion choices returned")
)

// Client は OpenAI Chat Completions API を使ったスキーマ制約付き生成クライアント。
// リトライはモデルのフォールバックチェーンに任せるため SDK の自動リトライは無効にする
type Client struct {
	client openai.Client
}

// ClientOption は Client のオプション設定
type ClientOption func(*clientOptions)

type clientOptions struct {
	baseURL string
}

// WithBaseURL はAPIのベースURLを上書きする（互換APIやテスト用）
func WithBaseURL(baseURL string) ClientOption {
	return func(o *clientOptions) {
		o.baseURL = baseURL
	}
}

// NewClient は新しい Client を作成する
func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	options := clientOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	return &Client{client: openai.NewClient(requestOptions(apiKey, options.baseURL)...)}, nil
}

func requestOptions(apiKey, baseURL string) []option.RequestOption {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	return reqOpts
}

// GenerateStructured は json_schema レスポンス形式で1回生成する
func (c *Client) GenerateStructured(ctx context.Context, req answer.StructuredRequest) (*answer.Completion, error) {
	completion, err := c.client.Chat.Completions.New(ctx, buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, ErrNoChoices
	}

	return &answer.Completion{
		Content:    completion.Choices[0].Message.Content,
		Model:      completion.Model,
		TokensUsed: usageTokens(completion.Usage),
	}, nil
}

// StreamStructured はストリーミングで生成を開始する
func (c *Client) StreamStructured(ctx context.Context, req answer.StructuredRequest) (answer.CompletionStream, error) {
	params := buildParams(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("OpenAI streaming call failed: %w", err)
	}
	return &completionStream{stream: stream}, nil
}

func buildParams(req answer.StructuredRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	for _, m := range req.Messages {
		switch m.Role {
		case answer.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	return openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(req.Model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.SchemaName,
					Schema: req.Schema,
					Strict: openai.Bool(true),
				},
			},
		},
	}
}

func usageTokens(usage openai.CompletionUsage) *int {
	if usage.TotalTokens == 0 {
		return nil
	}
	total := int(usage.TotalTokens)
	return &total
}

// completionStream は SSE ストリームを answer.CompletionStream に変換する
type completionStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	acc    openai.ChatCompletionAccumulator
	chunk  answer.StreamChunk
}

func (s *completionStream) Next() bool {
	if !s.stream.Next() {
		return false
	}
	current := s.stream.Current()
	s.acc.AddChunk(current)

	s.chunk = answer.StreamChunk{}
	if len(current.Choices) > 0 {
		s.chunk.Delta = current.Choices[0].Delta.Content
	}
	if current.Usage.TotalTokens > 0 {
		s.chunk.TokensUsed = usageTokens(s.acc.Usage)
	}
	return true
}

func (s *completionStream) Chunk() answer.StreamChunk {
	return s.chunk
}

func (s *completionStream) Err() error {
	return s.stream.Err()
}

func (s *completionStream) Close() error {
	return s.stream.Close()
}

// インターフェース実装の確認
var _ answer.ModelClient = (*Client)(nil)
