/* Copyright (c) 2026 M. Shams
 * SPDX-License-Identifier: BSD-3-Clause */

// Package openai turns evaluated epic health into a short narrative for
// status reports. The feature is optional; without a key the caller skips it.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	oai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
	"github.com/rs/zerolog"

	"github.com/mshams/portfolio-pulse/internal/config"
	"github.com/mshams/portfolio-pulse/internal/rag"
)

type Client struct {
	key   string
	model string
	cli   oai.Client
	log   zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	model := cfg.OpenAIModel
	if strings.TrimSpace(model) == "" { model = "gpt-4.1-mini" }
	cli := oai.NewClient(option.WithAPIKey(cfg.OpenAIKey))
	return &Client{key: cfg.OpenAIKey, model: model, cli: cli, log: log}
}

// Enabled reports whether a key is configured.
func (c *Client) Enabled() bool { return strings.TrimSpace(c.key) != "" }

// SummarizeEpicHealth produces a short stakeholder-facing narrative from the
// evaluated health of one epic.
func (c *Client) SummarizeEpicHealth(ctx context.Context, health *rag.Health) (string, error) {
	if !c.Enabled() { return "", errors.New("openai: missing key") }
	c.log.Info().Str("model", c.model).Int64("epic", health.EpicID).Msg("openai SummarizeEpicHealth call")
	payload, err := json.Marshal(health)
	if err != nil { return "", err }
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage("You are a delivery lead writing for stakeholders. Given an epic's RAG evaluation (status, factors, actions, metrics, projection), write a concise status narrative: one paragraph on where the epic stands and one on what happens next. No markdown, no headings."),
			oai.UserMessage(string(payload)),
		},
	}
	resp, err := c.cli.Chat.Completions.New(ctx, params)
	if err != nil { return "", err }
	if len(resp.Choices) == 0 { return "", errors.New("openai: no choices") }
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// SummarizePortfolio condenses several epic evaluations into one portfolio
// digest, red items first.
func (c *Client) SummarizePortfolio(ctx context.Context, healths []*rag.Health) (string, error) {
	if !c.Enabled() { return "", errors.New("openai: missing key") }
	c.log.Info().Str("model", c.model).Int("epics", len(healths)).Msg("openai SummarizePortfolio call")
	payload, err := json.Marshal(healths)
	if err != nil { return "", err }
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage("You are a portfolio manager. Given RAG evaluations for several epics, write a short digest: lead with red epics and their top factor, then amber, one line each; close with the single most urgent action."),
			oai.UserMessage(string(payload)),
		},
	}
	resp, err := c.cli.Chat.Completions.New(ctx, params)
	if err != nil { return "", err }
	if len(resp.Choices) == 0 { return "", errors.New("openai: no choices") }
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
