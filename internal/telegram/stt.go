package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"time"
)

const (
	transcribeURL     = "https://api.openai.com/v1/audio/transcriptions"
	transcribeModel   = "gpt-4o-mini-transcribe"
	transcribeTimeout = 60 * time.Second
)

// EnvOpenAIKey authorises voice transcription.
const EnvOpenAIKey = "OPENAI_API_KEY"

// Transcriber turns Telegram voice notes into prompt text.
type Transcriber struct {
	Client  FileAPI
	Enabled bool
	// MaxBytes caps the voice note download.
	MaxBytes int64
}

type transcribeResponse struct {
	Text string `json:"text"`
}

// Transcribe downloads a voice note and runs it through the
// transcription endpoint. Returns ("", nil) when transcription is
// disabled or unconfigured, so callers fall through silently.
func (t *Transcriber) Transcribe(ctx context.Context, voice *Attachment) (string, error) {
	if t == nil || !t.Enabled || voice == nil {
		return "", nil
	}
	apiKey := os.Getenv(EnvOpenAIKey)
	if apiKey == "" {
		slog.Debug("stt.skipped", "reason", "no api key")
		return "", nil
	}

	var audio bytes.Buffer
	if _, err := t.Client.DownloadFile(ctx, voice.FileID, &audio, t.MaxBytes); err != nil {
		return "", fmt.Errorf("stt: download voice note: %w", err)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, err := w.CreateFormFile("file", voice.FileName)
	if err != nil {
		return "", fmt.Errorf("stt: create form file field: %w", err)
	}
	if _, err := io.Copy(fw, &audio); err != nil {
		return "", fmt.Errorf("stt: write audio bytes to form: %w", err)
	}
	if err := w.WriteField("model", transcribeModel); err != nil {
		return "", fmt.Errorf("stt: write model field: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("stt: close multipart writer: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, transcribeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, transcribeURL, &body)
	if err != nil {
		return "", fmt.Errorf("stt: build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("stt: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("stt: upstream returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result transcribeResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("stt: parse response JSON: %w", err)
	}
	slog.Debug("stt.transcribed", "length", len(result.Text))
	return result.Text, nil
}
