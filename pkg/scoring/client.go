// Package scoring evaluates tenders with an LLM: a cheap teaser pass for the
// pipeline and a full audit pass for paid reports.
package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Mode selects the depth of analysis.
type Mode string

const (
	// ModeTeaser is the fast pre-sale pass: risk, margin, short summary.
	ModeTeaser Mode = "teaser"
	// ModeFullAudit is the post-payment pass producing the deliverable report.
	ModeFullAudit Mode = "full_audit"
)

// Request describes one tender to score.
type Request struct {
	Mode        Mode
	Title       string
	Description string
	Category    string
	Customer    string
	Price       decimal.Decimal
	// Documents lists attachment names; contents are never uploaded.
	Documents []string
}

// Result is the structured verdict for a tender.
type Result struct {
	// RiskScore is 0 (safe) to 100 (do not touch).
	RiskScore float64 `json:"risk_score"`
	// MarginEstimate is the expected contractor margin, percent.
	MarginEstimate float64 `json:"margin_estimate"`
	Summary        string  `json:"summary"`
	// Analysis is the long-form audit text; only full_audit fills it.
	Analysis string `json:"analysis,omitempty"`
}

// Client defines the scoring operations used by the pipeline.
type Client interface {
	Score(ctx context.Context, req Request) (*Result, error)
}

// Config selects models and limits per mode.
type Config struct {
	TeaserModel    string
	AuditModel     string
	MaxTokens      int64
	AuditMaxTokens int64
}

type sdkClient struct {
	client sdk.Client
	cfg    Config
}

// NewClient creates a scoring client backed by the Anthropic SDK. Extra
// request options (custom base URL, HTTP client) are passed through.
func NewClient(apiKey string, cfg Config, opts ...option.RequestOption) Client {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.AuditMaxTokens <= 0 {
		cfg.AuditMaxTokens = 8192
	}
	allOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &sdkClient{
		client: sdk.NewClient(allOpts...),
		cfg:    cfg,
	}
}

const teaserSystem = `Ты — аналитик государственных закупок. Оцени тендер по его карточке.
Ответь строго одним JSON-объектом без пояснений:
{"risk_score": <0-100>, "margin_estimate": <процент маржи>, "summary": "<2-3 предложения для клиента>"}`

const auditSystem = `Ты — аналитик государственных закупок. Подготовь развёрнутый аудит тендера:
риски контракта, обеспечение, сроки, подводные камни техзадания, рекомендации по цене.
Ответь строго одним JSON-объектом без пояснений:
{"risk_score": <0-100>, "margin_estimate": <процент маржи>, "summary": "<краткий вывод>", "analysis": "<полный текст аудита, markdown>"}`

func (c *sdkClient) Score(ctx context.Context, req Request) (*Result, error) {
	model := c.cfg.TeaserModel
	system := teaserSystem
	maxTokens := c.cfg.MaxTokens
	if req.Mode == ModeFullAudit {
		model = c.cfg.AuditModel
		system = auditSystem
		maxTokens = c.cfg.AuditMaxTokens
	}
	if model == "" {
		return nil, eris.Errorf("scoring: no model configured for mode %s", req.Mode)
	}

	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: maxTokens,
		System:    []sdk.TextBlockParam{{Text: system}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(buildPrompt(req))),
		},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "scoring: %s request", req.Mode)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, eris.Errorf("scoring: empty response for mode %s", req.Mode)
	}

	result, err := parseResult(text)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("tender scored",
		zap.String("mode", string(req.Mode)),
		zap.String("model", model),
		zap.Float64("risk_score", result.RiskScore),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
	)
	return result, nil
}

func buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Название: %s\n", req.Title)
	if req.Category != "" {
		fmt.Fprintf(&b, "Категория: %s\n", req.Category)
	}
	if req.Customer != "" {
		fmt.Fprintf(&b, "Заказчик: %s\n", req.Customer)
	}
	fmt.Fprintf(&b, "НМЦК: %s руб.\n", req.Price.StringFixed(2))
	if req.Description != "" {
		fmt.Fprintf(&b, "Описание: %s\n", req.Description)
	}
	if len(req.Documents) > 0 {
		fmt.Fprintf(&b, "Документы: %s\n", strings.Join(req.Documents, ", "))
	}
	return b.String()
}

// parseResult extracts the JSON verdict, tolerating a markdown code fence
// around it.
func parseResult(text string) (*Result, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	var result Result
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, eris.Wrap(err, "scoring: unmarshal verdict")
	}
	if result.RiskScore < 0 || result.RiskScore > 100 {
		return nil, eris.Errorf("scoring: risk score %.1f out of range", result.RiskScore)
	}
	return &result, nil
}
