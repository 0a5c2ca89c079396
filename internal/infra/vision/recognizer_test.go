package vision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/lens/internal/core/fault"
)

const sampleReply = `The photo shows an industrial pump unit mounted on a concrete base.
The model plate reads KSB Etanorm 065-040, rated 15 kW.
The unit is installed indoors in a well-lit machine room.`

func fakeEndpoint(t *testing.T, reply string, capture *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		if capture != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(capture))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "chatcmpl-test",
			"model": "qwen-vl-max",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
			"usage": map[string]any{
				"prompt_tokens":     321,
				"completion_tokens": 87,
				"total_tokens":      408,
			},
		})
	}))
}

func testRecognizer(t *testing.T, url string) *Recognizer {
	t.Helper()
	rec, err := NewRecognizer(Config{
		BaseURL: url,
		APIKey:  "test-key",
		Model:   "qwen-vl-max",
	})
	require.NoError(t, err)
	return rec
}

func TestNewRecognizerValidatesConfig(t *testing.T) {
	_, err := NewRecognizer(Config{Model: "m"})
	assert.Equal(t, fault.KindConfiguration, fault.KindOf(err))

	_, err = NewRecognizer(Config{APIKey: "k"})
	assert.Equal(t, fault.KindConfiguration, fault.KindOf(err))
}

func TestRecognizeSendsImageAndHint(t *testing.T) {
	var got map[string]any
	srv := fakeEndpoint(t, sampleReply, &got)
	defer srv.Close()

	rec := testRecognizer(t, srv.URL)
	result, err := rec.Recognize(context.Background(),
		"data:image/jpeg;base64,/9j/AAAA", "pump near loading dock")
	require.NoError(t, err)

	messages := got["messages"].([]any)
	require.Len(t, messages, 1)
	parts := messages[0].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)

	textPart := parts[0].(map[string]any)
	assert.Equal(t, "text", textPart["type"])
	assert.Contains(t, textPart["text"], "Uploader notes: pump near loading dock")

	imagePart := parts[1].(map[string]any)
	assert.Equal(t, "image_url", imagePart["type"])
	imageURL := imagePart["image_url"].(map[string]any)
	assert.Equal(t, "data:image/jpeg;base64,/9j/AAAA", imageURL["url"])

	assert.Equal(t, sampleReply, result.FullText)
	assert.Equal(t, int64(408), result.Usage.TotalTokens)
	assert.Contains(t, result.Metadata, "model=qwen-vl-max")
}

func TestRecognizeCategorizesReply(t *testing.T) {
	srv := fakeEndpoint(t, sampleReply, nil)
	defer srv.Close()

	result, err := testRecognizer(t, srv.URL).Recognize(context.Background(), "data:image/png;base64,AAAA", "")
	require.NoError(t, err)

	assert.Contains(t, result.Device, "pump unit")
	assert.Contains(t, result.Technical, "model plate")
	assert.Contains(t, result.Environment, "indoors")
}

func TestRecognizeDegradesToFullText(t *testing.T) {
	srv := fakeEndpoint(t, "A blurry photo with nothing identifiable.", nil)
	defer srv.Close()

	result, err := testRecognizer(t, srv.URL).Recognize(context.Background(), "data:image/png;base64,AAAA", "")
	require.NoError(t, err)

	fields := result.ResultFields()
	assert.Equal(t, "A blurry photo with nothing identifiable.", fields[0])
	assert.Empty(t, result.Technical)
}

func TestRecognizeEmptyPayload(t *testing.T) {
	srv := fakeEndpoint(t, sampleReply, nil)
	defer srv.Close()

	_, err := testRecognizer(t, srv.URL).Recognize(context.Background(), "", "")
	assert.Equal(t, fault.KindInvalidParameter, fault.KindOf(err))
}

func TestRecognizeRemoteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream unavailable"}}`))
	}))
	defer srv.Close()

	_, err := testRecognizer(t, srv.URL).Recognize(context.Background(), "data:image/png;base64,AAAA", "")
	require.Error(t, err)
	assert.Equal(t, fault.KindRemoteAPI, fault.KindOf(err))
	assert.True(t, fault.IsRecoverable(err))
}

func TestRecognizeEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}, "usage": map[string]any{}})
	}))
	defer srv.Close()

	_, err := testRecognizer(t, srv.URL).Recognize(context.Background(), "data:image/png;base64,AAAA", "")
	assert.Equal(t, fault.KindRemoteAPI, fault.KindOf(err))
}
