// Package vision recognizes receipt text through the Google Cloud
// Vision API.
package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gvision "google.golang.org/api/vision/v1"

	"recus/internal/ocr"
)

type Client struct {
	svc *gvision.Service
}

// Ensure interface conformance
var _ ocr.Engine = (*Client)(nil)

// NewFromEnv creates a Vision client using Service Account credentials.
// Uses GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or
// GOOGLE_APPLICATION_CREDENTIALS.
func NewFromEnv(ctx context.Context) (*Client, error) {
	credentialsJSON, err := readCredentials(ctx)
	if err != nil {
		return nil, err
	}

	svc, err := gvision.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gvision.CloudVisionScope))
	if err != nil {
		return nil, fmt.Errorf("create vision service: %w", err)
	}

	return &Client{svc: svc}, nil
}

func readCredentials(ctx context.Context) ([]byte, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case serviceAccountJSON != "":
		return []byte(serviceAccountJSON), nil
	case serviceAccountFile != "":
		credentialsJSON, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		slog.InfoContext(ctx, "Read Vision credentials from file",
			"path", serviceAccountFile, "size", len(credentialsJSON))
		return credentialsJSON, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// Recognize runs TEXT_DETECTION over the image with the given language
// hint and returns the full text annotation. The API call is a single
// round trip, so progress is reported at the phase boundaries only.
func (c *Client) Recognize(ctx context.Context, image []byte, lang string, progress ocr.ProgressFunc) (string, error) {
	if progress != nil {
		progress(ocr.PhasePrepare, 0)
	}

	req := &gvision.BatchAnnotateImagesRequest{
		Requests: []*gvision.AnnotateImageRequest{{
			Image:    &gvision.Image{Content: base64.StdEncoding.EncodeToString(image)},
			Features: []*gvision.Feature{{Type: "TEXT_DETECTION"}},
			ImageContext: &gvision.ImageContext{
				LanguageHints: []string{lang},
			},
		}},
	}

	if progress != nil {
		progress(ocr.PhaseRecognize, 0)
	}
	resp, err := c.svc.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("annotate image: %w", err)
	}
	if len(resp.Responses) == 0 {
		return "", errors.New("empty annotate response")
	}
	r := resp.Responses[0]
	if r.Error != nil {
		return "", fmt.Errorf("vision API error: %s", r.Error.Message)
	}

	if progress != nil {
		progress(ocr.PhaseDone, 1)
	}
	if r.FullTextAnnotation == nil {
		return "", nil
	}
	return r.FullTextAnnotation.Text, nil
}
