// Package scoringprovider talks to the generative scoring provider over
// HTTP. The client is deliberately thin: it returns the raw status code and
// body so the rotation layer can classify failures itself.
package scoringprovider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"oral-eval-platform/internal/logger"
)

// Part is one typed element of the provider payload: either instruction text
// or inline binary audio with its MIME type.
type Part struct {
	Text       string
	InlineMIME string
	InlineData []byte
}

// TextPart builds an instruction part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// AudioPart builds an inline audio part.
func AudioPart(mimeType string, data []byte) Part {
	return Part{InlineMIME: mimeType, InlineData: data}
}

// Request is one generation call against a specific model and credential.
type Request struct {
	Model       string
	APIKey      string
	Parts       []Part
	Temperature float64
}

// Response carries the raw outcome of one call. StatusCode and Body are
// always populated when Err is nil, including for non-2xx responses.
type Response struct {
	StatusCode int
	Body       string
}

// Client issues generateContent calls.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	log        *logrus.Entry
}

// NewClient creates a provider client. The per-call deadline comes from the
// caller's context; the embedded client timeout is only a safety net.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		log: logger.New().Module("scoringprovider"),
	}
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string     `json:"role"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature float64 `json:"temperature"`
}

// Generate performs one provider call. A returned error means the call never
// produced an HTTP response (transport failure or context deadline); any
// HTTP response, success or not, comes back as a Response for classification.
func (c *Client) Generate(ctx context.Context, req Request) (*Response, error) {
	wireParts := make([]wirePart, 0, len(req.Parts))
	inlineBytes := 0
	for _, p := range req.Parts {
		if p.InlineData != nil {
			inlineBytes += len(p.InlineData)
			wireParts = append(wireParts, wirePart{InlineData: &inlineData{
				MIMEType: p.InlineMIME,
				Data:     base64.StdEncoding.EncodeToString(p.InlineData),
			}})
			continue
		}
		wireParts = append(wireParts, wirePart{Text: p.Text})
	}

	body := generateRequest{
		Contents:         []content{{Role: "user", Parts: wireParts}},
		GenerationConfig: &generationConfig{Temperature: req.Temperature},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal provider request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.BaseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create provider request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", req.APIKey)

	c.log.WithFields(logrus.Fields{
		"model":        req.Model,
		"parts":        len(req.Parts),
		"inline_bytes": inlineBytes,
	}).Debug("sending generation request")

	start := time.Now()
	httpResp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider call failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response body: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"model":   req.Model,
		"status":  httpResp.StatusCode,
		"latency": time.Since(start).String(),
	}).Debug("generation request completed")

	return &Response{StatusCode: httpResp.StatusCode, Body: string(respBody)}, nil
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// ExtractText pulls the concatenated text parts out of a successful response
// body. An empty result with no parse error means the provider returned a
// candidate without text, which callers treat as a malformed response.
func ExtractText(body string) (string, error) {
	var resp generateResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return "", fmt.Errorf("failed to parse provider response envelope: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("provider response has no candidates")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}
