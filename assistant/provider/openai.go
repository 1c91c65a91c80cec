package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/theimaginaryfoundation/jarvis/assistant"
)

// RetryPolicy holds the waits between attempts, one entry per retry.
type RetryPolicy struct {
	RateLimitWaits   []time.Duration
	ServerErrorWaits []time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		RateLimitWaits:   []time.Duration{20 * time.Second, 40 * time.Second},
		ServerErrorWaits: []time.Duration{2 * time.Second, 10 * time.Second},
	}
}

// CallWithRetry sends params, waiting and retrying on rate-limit and server errors.
// Waits are cut short when ctx is done.
func CallWithRetry(ctx context.Context, client *openai.Client, params responses.ResponseNewParams, policy RetryPolicy) (*responses.Response, error) {
	rl, se := 0, 0
	for {
		resp, err := client.Responses.New(ctx, params)
		if err == nil {
			return resp, nil
		}
		var wait time.Duration
		switch {
		case isRateLimitError(err) && rl < len(policy.RateLimitWaits):
			wait = policy.RateLimitWaits[rl]
			rl++
		case isServerError(err) && se < len(policy.ServerErrorWaits):
			wait = policy.ServerErrorWaits[se]
			se++
		default:
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-time.After(wait):
		}
	}
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests")
}

func isServerError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 500 {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "server_error")
}

// NewOpenAIClient builds a client with the SDK's own retries disabled; CallWithRetry owns retries.
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &client
}

type OpenAICompleterOptions struct {
	Model           string
	MaxOutputTokens int64
	Instructions    string
	// Schema, when set, asks for structured output matching it.
	Schema     map[string]any
	SchemaName string
	Retry      RetryPolicy
	Breaker    *Breaker
}

// OpenAICompleter implements assistant.Completer with the Responses API.
type OpenAICompleter struct {
	client *openai.Client
	opts   OpenAICompleterOptions
}

var _ assistant.Completer = (*OpenAICompleter)(nil)

func NewOpenAICompleter(client *openai.Client, opts OpenAICompleterOptions) *OpenAICompleter {
	if opts.MaxOutputTokens <= 0 {
		opts.MaxOutputTokens = 800
	}
	if opts.SchemaName == "" {
		opts.SchemaName = "Response"
	}
	return &OpenAICompleter{client: client, opts: opts}
}

func (c *OpenAICompleter) params(prompt string) responses.ResponseNewParams {
	p := responses.ResponseNewParams{
		Model:           c.opts.Model,
		MaxOutputTokens: openai.Int(c.opts.MaxOutputTokens),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(prompt, responses.EasyInputMessageRoleUser),
			},
		},
	}
	if c.opts.Instructions != "" {
		p.Instructions = openai.String(c.opts.Instructions)
	}
	if c.opts.Schema != nil {
		p.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:   c.opts.SchemaName,
					Schema: c.opts.Schema,
					Strict: openai.Bool(true),
					Type:   "json_schema",
				},
			},
		}
	}
	return p
}

func (c *OpenAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	return Call(c.opts.Breaker, func() (string, error) {
		resp, err := CallWithRetry(ctx, c.client, c.params(prompt), c.opts.Retry)
		if err != nil {
			return "", fmt.Errorf("openai responses: %w", err)
		}
		out := resp.OutputText()
		if strings.TrimSpace(out) == "" {
			return "", errors.New("openai responses: empty output")
		}
		return out, nil
	})
}

// OpenAIEmbedder implements assistant.Embedder with the embeddings endpoint.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	batchSize int
	breaker   *Breaker
}

var _ assistant.Embedder = (*OpenAIEmbedder)(nil)

func NewOpenAIEmbedder(client *openai.Client, model string, batchSize int, breaker *Breaker) *OpenAIEmbedder {
	if model == "" {
		model = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	if batchSize <= 0 {
		batchSize = 256
	}
	return &OpenAIEmbedder{client: client, model: model, batchSize: batchSize, breaker: breaker}
}

func (e *OpenAIEmbedder) Model() string { return "openai:" + e.model }

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		batch, err := Call(e.breaker, func() ([][]float32, error) {
			return e.embedBatch(ctx, texts[start:end])
		})
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		v := make([]float32, len(d.Embedding))
		for j, x := range d.Embedding {
			v[j] = float32(x)
		}
		out[i] = v
	}
	return out, nil
}

// GenerateSchema reflects T into a strict JSON schema for structured output.
func GenerateSchema[T any]() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	schema := reflector.Reflect(v)
	schemaObj, err := schemaToMap(schema)
	if err != nil {
		return nil, err
	}
	ensureOpenAICompliance(schemaObj)
	return schemaObj, nil
}

func schemaToMap(schema *jsonschema.Schema) (map[string]any, error) {
	b, err := schema.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

const (
	propertiesKey           = "properties"
	additionalPropertiesKey = "additionalProperties"
	typeKey                 = "type"
	requiredKey             = "required"
	itemsKey                = "items"
)

// ensureOpenAICompliance marks every property required and closes every object,
// which strict structured output demands.
func ensureOpenAICompliance(schema map[string]any) {
	if schemaType, ok := schema[typeKey].(string); ok && schemaType == "object" {
		schema[additionalPropertiesKey] = false

		if properties, ok := schema[propertiesKey].(map[string]any); ok {
			requiredFields := make([]string, 0, len(properties))
			for propName := range properties {
				requiredFields = append(requiredFields, propName)
			}
			sort.Strings(requiredFields)
			if len(requiredFields) > 0 {
				schema[requiredKey] = requiredFields
			}
		}
	}

	if properties, ok := schema[propertiesKey].(map[string]any); ok {
		for _, prop := range properties {
			if propMap, ok := prop.(map[string]any); ok {
				ensureOpenAICompliance(propMap)
			}
		}
	}

	if items, ok := schema[itemsKey].(map[string]any); ok {
		ensureOpenAICompliance(items)
	}
}
