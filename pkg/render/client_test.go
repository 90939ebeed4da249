package render

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPDF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/render", r.URL.Path)

		var report Report
		require.NoError(t, json.NewDecoder(r.Body).Decode(&report))
		assert.Equal(t, "Аудит тендера", report.Title)
		assert.Contains(t, report.Analysis, "риски")

		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7 fake"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	pdf, err := c.RenderPDF(context.Background(), Report{
		Title:    "Аудит тендера",
		TenderID: "tender-1",
		Analysis: "# Аудит\nОсновные риски контракта.",
	})
	require.NoError(t, err)
	assert.Contains(t, string(pdf), "%PDF")
}

func TestRenderPDFEmptyAnalysis(t *testing.T) {
	c := NewClient("http://unused.example")
	_, err := c.RenderPDF(context.Background(), Report{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty analysis")
}

func TestRenderPDFServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "renderer crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.RenderPDF(context.Background(), Report{Title: "x", Analysis: "body"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}
