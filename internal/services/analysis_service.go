package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"scholarpass/internal/imaging"
	"scholarpass/internal/inference"
	"scholarpass/internal/infrastructure"
	"scholarpass/internal/validation"
	"scholarpass/pkg/contracts/events"
	api "scholarpass/pkg/contracts/api/v1"
)

// Recognizer extracts problem text from a photo. *inference.OCR
// implements it.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, subject string) (string, error)
	Configured() bool
}

// Explainer writes a Markdown explanation of recognized text.
// *inference.Reasoner implements it.
type Explainer interface {
	Explain(ctx context.Context, text, subject, task string) (string, error)
	Configured() bool
}

// ProgressFunc observes pipeline steps. It is called synchronously from
// Analyze and must not block.
type ProgressFunc func(events.Progress)

// AnalysisInput is one photo to analyze.
type AnalysisInput struct {
	Subject string
	Task    string
	Image   io.Reader
}

// AnalysisService runs the photo pipeline: enhance, recognize, explain.
type AnalysisService struct {
	ocr      Recognizer
	reasoner Explainer
	enhance  func(io.Reader) ([]byte, error)
	markdown goldmark.Markdown
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewAnalysisService creates a new analysis service
func NewAnalysisService(ocr Recognizer, reasoner Explainer, logger *slog.Logger) *AnalysisService {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	logger = logger.With(slog.String("service", "analysis"))
	return &AnalysisService{
		ocr:      ocr,
		reasoner: reasoner,
		enhance:  validatedEnhance(validation.NewImageValidator(logger)),
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		logger: logger,
		tracer: otel.Tracer("scholarpass/services"),
		now:    time.Now,
	}
}

// Subjects returns the subject catalog.
func (s *AnalysisService) Subjects() *api.SubjectsResponse {
	catalog := inference.Catalog()
	out := make([]api.Subject, 0, len(catalog))
	for _, sub := range catalog {
		out = append(out, api.Subject{Name: sub.Name, Tasks: sub.Tasks})
	}
	return &api.SubjectsResponse{Subjects: out}
}

// Configured reports whether both providers have API keys.
func (s *AnalysisService) Configured() bool {
	return s.ocr.Configured() && s.reasoner.Configured()
}

// Analyze runs the pipeline for in. progress may be nil. A photo the
// vision model returns no text for fails with inference.ErrUnreadableImage
// before the reasoning call is made. Provider failures keep their own error.
func (s *AnalysisService) Analyze(ctx context.Context, in AnalysisInput, progress ProgressFunc) (*api.AnalysisResponse, error) {
	ctx, span := s.tracer.Start(ctx, "analysis.run",
		trace.WithAttributes(attribute.String("subject", in.Subject)),
	)
	defer span.End()

	if progress == nil {
		progress = func(events.Progress) {}
	}
	start := s.now()

	task, err := inference.ResolveTask(in.Subject, in.Task)
	if err != nil {
		return nil, s.fail(ctx, span, "resolve task", err)
	}
	span.SetAttributes(attribute.String("task", task))

	progress(events.Progress{Step: events.StepEnhance, Percent: 0, Message: "正在处理图片..."})
	image, err := s.enhance(in.Image)
	if err != nil {
		return nil, s.fail(ctx, span, "enhance image", err)
	}

	progress(events.Progress{Step: events.StepRecognize, Percent: 30, Message: "视觉引擎正在提取信息..."})
	text, err := s.ocr.Recognize(ctx, image, in.Subject)
	if err != nil {
		return nil, s.fail(ctx, span, "recognize", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, s.fail(ctx, span, "recognize", inference.ErrUnreadableImage)
	}

	progress(events.Progress{Step: events.StepReason, Percent: 70, Message: "教授正在推导逻辑..."})
	explanation, err := s.reasoner.Explain(ctx, text, in.Subject, task)
	if err != nil {
		return nil, s.fail(ctx, span, "explain", err)
	}

	var rendered bytes.Buffer
	if err := s.markdown.Convert([]byte(explanation), &rendered); err != nil {
		// The raw Markdown is still returned.
		s.logger.WarnContext(ctx, "failed to render explanation", slog.String("error", err.Error()))
		rendered.Reset()
	}

	progress(events.Progress{Step: events.StepDone, Percent: 100})

	elapsed := s.now().Sub(start)
	s.logger.InfoContext(ctx, "analysis completed",
		slog.String("subject", in.Subject),
		slog.String("task", task),
		slog.Int("image_bytes", len(image)),
		slog.Int("recognized_chars", len([]rune(text))),
		slog.Duration("duration", elapsed),
	)

	return &api.AnalysisResponse{
		Subject:         in.Subject,
		Task:            task,
		Strategy:        inference.StrategyName(task),
		Recognized:      text,
		Explanation:     explanation,
		ExplanationHTML: rendered.String(),
		DurationMS:      elapsed.Milliseconds(),
		TraceID:         infrastructure.GetTraceID(ctx),
	}, nil
}

// validatedEnhance checks the upload header before the full decode.
func validatedEnhance(v *validation.ImageValidator) func(io.Reader) ([]byte, error) {
	return func(r io.Reader) ([]byte, error) {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read image: %w", err)
		}
		if _, err := v.Validate(data); err != nil {
			return nil, err
		}
		return imaging.Enhance(bytes.NewReader(data))
	}
}

func (s *AnalysisService) fail(ctx context.Context, span trace.Span, step string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, step+" failed")
	s.logger.WarnContext(ctx, "analysis failed",
		slog.String("step", step),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("%s: %w", step, err)
}
