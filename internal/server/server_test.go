// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jeranaias/ephemerai/internal/export"
	"github.com/jeranaias/ephemerai/internal/ingest"
	"github.com/jeranaias/ephemerai/internal/model"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeSession struct {
	conv        *model.Conversation
	deltas      []string
	replyText   string
	submitErr   error
	advisories  []model.Advisory
	cleared     int
	lastText    string
	lastUploads []ingest.Upload
}

func newFakeSession() *fakeSession {
	return &fakeSession{conv: model.NewConversation("gemma3-prod")}
}

func (f *fakeSession) Submit(ctx context.Context, text string, uploads []ingest.Upload, onDelta func(string)) (*model.Turn, error) {
	f.lastText = text
	f.lastUploads = uploads
	for _, d := range f.deltas {
		if onDelta != nil {
			onDelta(d)
		}
	}
	reply := model.NewAssistantNotice(f.replyText)
	return reply, f.submitErr
}

func (f *fakeSession) NewConversation() {
	f.cleared++
	f.conv = model.NewConversation("gemma3-prod")
}

func (f *fakeSession) Conversation() *model.Conversation { return f.conv }

func (f *fakeSession) Advisories() []model.Advisory {
	out := f.advisories
	f.advisories = nil
	return out
}

type fakeBackend struct{ healthy bool }

func (f *fakeBackend) Healthy(ctx context.Context) bool { return f.healthy }

type fakeParser struct{ err error }

func (f *fakeParser) CheckRunning(ctx context.Context) error { return f.err }

func newTestServer(t *testing.T, sess *fakeSession, cfg Config) *httptest.Server {
	t.Helper()
	if cfg.ModelName == "" {
		cfg.ModelName = "gemma3-prod"
	}
	srv := New(cfg, sess, export.NewCache(), &fakeBackend{healthy: true}, &fakeParser{}, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

// chatRequest posts a multipart submission and returns the response.
func chatRequest(t *testing.T, url, message string, files map[string][]byte) *http.Response {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("message", message))
	for name, data := range files {
		part, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	resp, err := http.Post(url+"/api/chat", w.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

// parseSSE splits a raw SSE body into decoded events, dropping the
// [DONE] trailer.
func parseSSE(t *testing.T, body []byte) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, frame := range strings.Split(string(body), "\n\n") {
		if !strings.HasPrefix(frame, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(frame, "data: ")
		if payload == "[DONE]" {
			continue
		}
		var ev sseEvent
		require.NoError(t, json.Unmarshal([]byte(payload), &ev))
		events = append(events, ev)
	}
	return events
}

// =============================================================================
// CHAT ENDPOINT TESTS
// =============================================================================

func TestChat_StreamsDeltasAndDone(t *testing.T) {
	sess := newFakeSession()
	sess.deltas = []string{"Hello", ", ", "world"}
	sess.replyText = "Hello, world"
	ts := newTestServer(t, sess, Config{})

	resp := chatRequest(t, ts.URL, "hi there", nil)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "data: [DONE]"))

	events := parseSSE(t, body)
	require.Len(t, events, 4)
	assert.Equal(t, "delta", events[0].Type)
	assert.Equal(t, "Hello", events[0].Content)
	assert.Equal(t, "done", events[3].Type)
	assert.Equal(t, "Hello, world", events[3].Content)

	assert.Equal(t, "hi there", sess.lastText)
}

func TestChat_AdvisoriesRideTheDoneEvent(t *testing.T) {
	sess := newFakeSession()
	sess.replyText = "ok"
	sess.advisories = []model.Advisory{
		model.NewAdvisory(model.AdvisoryTruncation, "report.pdf was truncated"),
	}
	ts := newTestServer(t, sess, Config{})

	resp := chatRequest(t, ts.URL, "summarize", nil)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	events := parseSSE(t, body)
	require.Len(t, events, 1)
	require.Len(t, events[0].Advisories, 1)
	assert.Equal(t, "report.pdf was truncated", events[0].Advisories[0].Message)
}

func TestChat_UploadsForwarded(t *testing.T) {
	sess := newFakeSession()
	sess.replyText = "got it"
	ts := newTestServer(t, sess, Config{})

	resp := chatRequest(t, ts.URL, "", map[string][]byte{
		"report.txt": []byte("quarterly numbers"),
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	io.Copy(io.Discard, resp.Body)

	require.Len(t, sess.lastUploads, 1)
	assert.Equal(t, "report.txt", sess.lastUploads[0].Filename)
	assert.Equal(t, []byte("quarterly numbers"), sess.lastUploads[0].Data)
}

func TestChat_EmptySubmissionRejected(t *testing.T) {
	ts := newTestServer(t, newFakeSession(), Config{})

	resp := chatRequest(t, ts.URL, "   ", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChat_RateLimited(t *testing.T) {
	sess := newFakeSession()
	sess.replyText = "ok"
	ts := newTestServer(t, sess, Config{SubmitPerMinute: 1})

	first := chatRequest(t, ts.URL, "one", nil)
	io.Copy(io.Discard, first.Body)
	first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := chatRequest(t, ts.URL, "two", nil)
	defer second.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func TestChat_SubmitErrorStillCompletesStream(t *testing.T) {
	sess := newFakeSession()
	sess.replyText = "The model is not responding. Check that it is running and try again."
	sess.submitErr = context.DeadlineExceeded
	ts := newTestServer(t, sess, Config{})

	resp := chatRequest(t, ts.URL, "hello", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	events := parseSSE(t, body)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "done", last.Type)
	assert.Contains(t, last.Content, "not responding")
	assert.Contains(t, string(body), "[DONE]")
}

// =============================================================================
// CONVERSATION MANAGEMENT TESTS
// =============================================================================

func TestNewConversation_ResetsSession(t *testing.T) {
	sess := newFakeSession()
	oldID := sess.conv.ID
	ts := newTestServer(t, sess, Config{})

	resp, err := http.Post(ts.URL+"/api/conversation/new", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "ok", out["status"])
	assert.NotEmpty(t, out["conversation_id"])
	assert.NotEqual(t, oldID, out["conversation_id"])
	assert.Equal(t, 1, sess.cleared)
}

func TestExport_DownloadsTranscript(t *testing.T) {
	sess := newFakeSession()
	sess.conv.Append(model.NewUserTurn("what is a raven?"))
	sess.conv.Append(model.NewAssistantNotice("A large black corvid."))
	ts := newTestServer(t, sess, Config{})

	resp, err := http.Get(ts.URL + "/api/export?format=json")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".json")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "what is a raven?")
}

func TestExport_DefaultsToMarkdown(t *testing.T) {
	ts := newTestServer(t, newFakeSession(), Config{})

	resp, err := http.Get(ts.URL + "/api/export")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/markdown", resp.Header.Get("Content-Type"))
}

func TestExport_UnknownFormatRejected(t *testing.T) {
	ts := newTestServer(t, newFakeSession(), Config{})

	resp, err := http.Get(ts.URL + "/api/export?format=docx")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// HEALTH AND UI TESTS
// =============================================================================

func TestHealth_ReportsCollaborators(t *testing.T) {
	sess := newFakeSession()
	srv := New(Config{ModelName: "gemma3-prod"}, sess, export.NewCache(),
		&fakeBackend{healthy: true}, &fakeParser{err: context.DeadlineExceeded}, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "degraded", out.Status)
	assert.True(t, out.Ollama)
	assert.False(t, out.Tika)
	assert.Equal(t, "gemma3-prod", out.Model)
}

func TestIndex_ServesChatPage(t *testing.T) {
	ts := newTestServer(t, newFakeSession(), Config{})

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ephemerai")
}

func TestSecurityHeaders_Present(t *testing.T) {
	ts := newTestServer(t, newFakeSession(), Config{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Contains(t, resp.Header.Get("Cache-Control"), "no-store")
}
