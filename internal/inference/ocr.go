package inference

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"scholarpass/internal/config"
)

// TracerName is the instrumentation scope for inference spans.
const TracerName = "scholarpass/inference"

// OCR transcribes exam photos through a vision chat model.
type OCR struct {
	client *chatClient
}

// NewOCR builds the recognizer from cfg. httpClient may be nil.
func NewOCR(cfg config.InferenceConfig, httpClient *http.Client) *OCR {
	return &OCR{client: newChatClient(cfg.OCRBaseURL, cfg.OCRAPIKey, cfg.OCRModel, httpClient, cfg.Timeout)}
}

// Configured reports whether an API key is present.
func (o *OCR) Configured() bool {
	return o.client.configured()
}

// Recognize returns the text of a JPEG image, with formulas as LaTeX in
// Markdown. The image is sent as bare base64, which GLM-4V accepts.
func (o *OCR) Recognize(ctx context.Context, image []byte, subject string) (string, error) {
	ctx, span := otel.Tracer(TracerName).Start(ctx, "inference.ocr")
	defer span.End()
	span.SetAttributes(
		attribute.String("subject", subject),
		attribute.String("model", o.client.model),
		attribute.Int("image.bytes", len(image)),
	)

	messages := []chatMessage{{
		Role: "user",
		Content: []contentPart{
			{Type: "text", Text: ocrPrompt(subject)},
			{Type: "image_url", ImageURL: &imageURL{URL: base64.StdEncoding.EncodeToString(image)}},
		},
	}}

	text, err := o.client.complete(ctx, messages, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ocr failed")
		return "", err
	}
	return text, nil
}

func ocrPrompt(subject string) string {
	return fmt.Sprintf(`你是一个专业的学术OCR助手。请精准识别图片中的【%s】内容。
要求：
1. 所见即所得，直接输出识别内容。
2. 数学公式使用 Markdown 格式，用 $ 包裹 LaTeX。`, subject)
}
