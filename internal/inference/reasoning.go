package inference

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"scholarpass/internal/config"
)

// derivationMarker in a task name switches the tutor to step-by-step
// derivations.
const derivationMarker = "推导"

const (
	strategyAnalysis   = "请进行深入的原理分析，逻辑必须严密。"
	strategyDerivation = "请列出详细的推导步骤。"
)

// Reasoner asks a chat model to explain a recognized problem.
type Reasoner struct {
	client      *chatClient
	temperature float64
}

// NewReasoner builds the reasoner from cfg. httpClient may be nil.
func NewReasoner(cfg config.InferenceConfig, httpClient *http.Client) *Reasoner {
	return &Reasoner{
		client:      newChatClient(cfg.ReasoningBaseURL, cfg.ReasoningAPIKey, cfg.ReasoningModel, httpClient, cfg.Timeout),
		temperature: cfg.Temperature,
	}
}

// Configured reports whether an API key is present.
func (r *Reasoner) Configured() bool {
	return r.client.configured()
}

// Explain returns a Markdown explanation of text for subject and task.
func (r *Reasoner) Explain(ctx context.Context, text, subject, task string) (string, error) {
	ctx, span := otel.Tracer(TracerName).Start(ctx, "inference.reasoning")
	defer span.End()
	span.SetAttributes(
		attribute.String("subject", subject),
		attribute.String("task", task),
		attribute.String("model", r.client.model),
	)

	temperature := r.temperature
	messages := []chatMessage{
		{Role: "system", Content: systemPrompt(subject, task)},
		{Role: "user", Content: fmt.Sprintf("题目：\n%s\n\n请教授讲解。", text)},
	}

	answer, err := r.client.complete(ctx, messages, &temperature)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reasoning failed")
		return "", err
	}
	return answer, nil
}

// Strategy returns the teaching strategy used for task.
func Strategy(task string) string {
	if StrategyName(task) == "derivation" {
		return strategyDerivation
	}
	return strategyAnalysis
}

// StrategyName is the short label of the strategy chosen for task,
// "derivation" or "analysis".
func StrategyName(task string) string {
	if strings.Contains(task, derivationMarker) {
		return "derivation"
	}
	return "analysis"
}

func systemPrompt(subject, task string) string {
	return fmt.Sprintf(`你是一位【%s】领域的顶尖教授。当前任务：%s。
最高指令：
1. 深度优先：深入底层原理。
2. 格式规范：数学公式用 $ 包裹 LaTeX，重点加粗。
教学策略：%s`, subject, task, Strategy(task))
}
