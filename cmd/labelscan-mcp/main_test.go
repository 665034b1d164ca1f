package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApiPost(t *testing.T) {
	var got scanRequest
	var key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("X-API-Key")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = w.Write([]byte(`{"success":true,"report":"ok"}`))
	}))
	defer srv.Close()

	body, err := apiPost(context.Background(), &http.Client{Timeout: 5 * time.Second}, srv.URL, "k1", "/api/v1/scan",
		scanRequest{URL: "https://www.coupang.com/vp/products/1", Mode: "screenshot"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"report":"ok"}`, string(body))
	assert.Equal(t, "k1", key)
	assert.Equal(t, "screenshot", got.Mode)
}

func TestFormatReport(t *testing.T) {
	var r scanResponse
	require.NoError(t, json.Unmarshal([]byte(`{
		"success": true,
		"report": "1) 제품 개요",
		"page": {"title": "쿠팡! | 현미", "url": "https://www.coupang.com/vp/products/1"},
		"harvest": {"candidates": 6, "acquired": 5, "strategy": "fetch", "images": [{"index":1},{"index":2}]},
		"warnings": ["navigation failed"],
		"analysis_error": {"code": "LLM_RATE_LIMITED", "message": "quota"}
	}`), &r))

	out := formatReport(&r)
	assert.Contains(t, out, "Title: 쿠팡! | 현미")
	assert.Contains(t, out, "Images: 2 analysed (6 candidates, 5 acquired, fetch)")
	assert.Contains(t, out, "Warning: navigation failed")
	assert.Contains(t, out, "Analysis error: [LLM_RATE_LIMITED] quota")
	assert.Contains(t, out, "1) 제품 개요")
}
