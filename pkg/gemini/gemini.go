package gemini

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/google/generative-ai-go/genai"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"ImageClassifier/internal/entity"
	"ImageClassifier/pkg/detector"
	"ImageClassifier/pkg/imagecodec"
)

const defaultPrompt = `Detect every distinct object in this image.
Answer with a JSON array only, no prose, one element per object:
[{"label": "<lowercase class name>", "box_2d": [ymin, xmin, ymax, xmax], "confidence": <0..1>}]
Coordinates are normalised to 0..1000. Answer [] when there is nothing to report.`

type Config struct {
	APIKey      string
	ModelName   string
	Prompt      string
	JPEGQuality int
}

type geminiObject struct {
	Label      string    `json:"label"`
	Box2D      []float64 `json:"box_2d"`
	Confidence *float32  `json:"confidence"`
}

type geminiDetector struct {
	log    *logrus.Logger
	cfg    Config
	client *genai.Client
}

func NewGeminiDetector(log *logrus.Logger, cfg Config) (detector.Detector, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}

	if cfg.ModelName == "" {
		cfg.ModelName = "gemini-1.5-flash"
	}
	if cfg.Prompt == "" {
		cfg.Prompt = defaultPrompt
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, err
	}

	return &geminiDetector{
		log:    log,
		cfg:    cfg,
		client: client,
	}, nil
}

func (g *geminiDetector) Detect(ctx context.Context, img image.Image, threshold float32) ([]entity.Detection, error) {
	imgData, err := imagecodec.Encode(img, g.cfg.JPEGQuality)
	if err != nil {
		return nil, detector.InferenceError(err)
	}

	model := g.client.GenerativeModel(g.cfg.ModelName)
	model.ResponseMIMEType = "application/json"

	res, err := model.GenerateContent(ctx, genai.Text(g.cfg.Prompt), genai.ImageData("jpeg", imgData))
	if err != nil {
		return nil, detector.InferenceError(err)
	}

	if len(res.Candidates) == 0 || res.Candidates[0].Content == nil || len(res.Candidates[0].Content.Parts) == 0 {
		return nil, detector.InferenceError(errors.New("no response from Gemini API"))
	}

	text, ok := res.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return nil, detector.InferenceError(errors.New("unexpected response format from Gemini API"))
	}

	dets, err := parseObjects(string(text), img.Bounds().Dx(), img.Bounds().Dy())
	if err != nil {
		g.log.WithFields(logrus.Fields{
			"model": g.cfg.ModelName,
			"error": err.Error(),
		}).Warn("Unparseable Gemini detection answer")
		return nil, detector.InferenceError(err)
	}

	return detector.FilterByConfidence(dets, threshold), nil
}

// parseObjects reads the JSON array embedded in text and maps the 0..1000
// box_2d coordinates onto a width x height image. Missing confidences count
// as certain.
func parseObjects(text string, width, height int) ([]entity.Detection, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON array in answer %q", text)
	}

	var objects []geminiObject
	if err := jsoniter.UnmarshalFromString(text[start:end+1], &objects); err != nil {
		return nil, fmt.Errorf("error parsing answer: %w", err)
	}

	dets := make([]entity.Detection, 0, len(objects))
	for _, o := range objects {
		if len(o.Box2D) != 4 {
			return nil, fmt.Errorf("object %q has %d box coordinates, want 4", o.Label, len(o.Box2D))
		}

		confidence := float32(1)
		if o.Confidence != nil {
			confidence = *o.Confidence
		}

		box := entity.BoundingBox{
			XMin: int(o.Box2D[1] / 1000 * float64(width)),
			YMin: int(o.Box2D[0] / 1000 * float64(height)),
			XMax: int(o.Box2D[3] / 1000 * float64(width)),
			YMax: int(o.Box2D[2] / 1000 * float64(height)),
		}
		dets = append(dets, entity.Detection{
			Label:      strings.TrimSpace(o.Label),
			Box:        detector.ClampBox(box, width, height),
			Confidence: confidence,
		})
	}
	return dets, nil
}

func (g *geminiDetector) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
