package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storyloom/internal/repository/memory"
	"storyloom/internal/service/lock"
	"storyloom/internal/service/scheduler"
	"storyloom/internal/service/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bookRepo := memory.NewBookRepository()
	chunkRepo := memory.NewChunkRepository()
	jobRepo := memory.NewJobRepository()
	txManager := memory.NewTransactionManager()

	books := store.NewBookStore(bookRepo, logger)
	chunks := store.NewChunkStore(chunkRepo, bookRepo, txManager, logger)
	locks := lock.NewManager(bookRepo, chunkRepo, logger)
	registry := scheduler.NewRegistry()
	sched := scheduler.NewScheduler(jobRepo, bookRepo, chunkRepo, locks, registry, time.Second, logger)

	bookHandler := NewBookHandler(books, chunks, logger)
	chunkHandler := NewChunkHandler(chunks, 20, logger)
	jobHandler := NewJobHandler(sched, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", HealthCheck)
	mux.HandleFunc("POST /api/books", bookHandler.CreateBook)
	mux.HandleFunc("GET /api/books", bookHandler.ListBooks)
	mux.HandleFunc("GET /api/books/{id}", bookHandler.GetBook)
	mux.HandleFunc("PATCH /api/books/{id}/props", bookHandler.PatchBookProps)
	mux.HandleFunc("GET /api/books/{id}/word-count", bookHandler.GetBookWordCount)
	mux.HandleFunc("GET /api/books/{id}/chunks", bookHandler.ListBookChunks)
	mux.HandleFunc("POST /api/chunks", chunkHandler.CreateChunk)
	mux.HandleFunc("GET /api/chunks/{id}", chunkHandler.GetChunk)
	mux.HandleFunc("GET /api/chunks/{id}/versions", chunkHandler.ListVersions)
	mux.HandleFunc("PUT /api/chunks/{id}/text", chunkHandler.UpdateText)
	mux.HandleFunc("DELETE /api/chunks/{id}", chunkHandler.DeleteChunk)
	mux.HandleFunc("POST /api/jobs", jobHandler.CreateJob)
	mux.HandleFunc("GET /api/jobs/{id}", jobHandler.GetJob)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("decode response %q: %v", data, err)
		}
	}
	return resp, decoded
}

func TestBookAndChunkLifecycle(t *testing.T) {
	server := newTestServer(t)

	resp, book := doJSON(t, "POST", server.URL+"/api/books", map[string]any{"title": "HTTP Book"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create book status = %d, want 201", resp.StatusCode)
	}
	bookID := book["id"].(string)

	resp, chunk := doJSON(t, "POST", server.URL+"/api/chunks", map[string]any{
		"book_id": bookID,
		"type":    "scene",
		"text":    "hello world",
		"chapter": 1,
		"order":   1,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create chunk status = %d, want 201", resp.StatusCode)
	}
	chunkID := chunk["chunk_id"].(string)
	if chunk["word_count"].(float64) != 2 {
		t.Errorf("word_count = %v, want 2", chunk["word_count"])
	}

	resp, updated := doJSON(t, "PUT", server.URL+"/api/chunks/"+chunkID+"/text", map[string]any{
		"text": "hello brave new world",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update text status = %d, want 200", resp.StatusCode)
	}
	if updated["version"].(float64) != 2 {
		t.Errorf("updated version = %v, want 2", updated["version"])
	}

	resp, versions := doJSON(t, "GET", server.URL+"/api/chunks/"+chunkID+"/versions", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list versions status = %d, want 200", resp.StatusCode)
	}
	if n := len(versions["versions"].([]any)); n != 2 {
		t.Errorf("versions = %d, want 2", n)
	}

	resp, wc := doJSON(t, "GET", server.URL+"/api/books/"+bookID+"/word-count", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("word count status = %d, want 200", resp.StatusCode)
	}
	if wc["word_count"].(float64) != 4 {
		t.Errorf("book word_count = %v, want 4", wc["word_count"])
	}

	req, _ := http.NewRequest("DELETE", server.URL+"/api/chunks/"+chunkID, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", delResp.StatusCode)
	}

	resp, listing := doJSON(t, "GET", server.URL+"/api/books/"+bookID+"/chunks", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list chunks status = %d, want 200", resp.StatusCode)
	}
	if listing["chunks"] != nil {
		if n := len(listing["chunks"].([]any)); n != 0 {
			t.Errorf("deleted chunk still listed: %d rows", n)
		}
	}
}

func TestErrorMapping(t *testing.T) {
	server := newTestServer(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
	}{
		{
			name:       "unknown book is 404",
			method:     "GET",
			path:       "/api/books/no-such-id",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "unknown chunk is 404",
			method:     "GET",
			path:       "/api/chunks/no-such-id",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "book without title is 400",
			method:     "POST",
			path:       "/api/books",
			body:       map[string]any{"title": ""},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "chunk for unknown book is 404",
			method:     "POST",
			path:       "/api/chunks",
			body:       map[string]any{"book_id": "nope", "type": "scene"},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "job with unknown type is 400",
			method:     "POST",
			path:       "/api/jobs",
			body:       map[string]any{"book_id": "nope", "job_type": "mystery"},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, problem := doJSON(t, tt.method, server.URL+tt.path, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			// RFC 7807 body shape.
			if ct := resp.Header.Get("Content-Type"); ct != "application/problem+json" {
				t.Errorf("Content-Type = %q, want application/problem+json", ct)
			}
			if problem["status"].(float64) != float64(tt.wantStatus) {
				t.Errorf("problem status = %v, want %d", problem["status"], tt.wantStatus)
			}
			if problem["title"] == "" {
				t.Error("problem title missing")
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	server := newTestServer(t)

	resp, body := doJSON(t, "GET", server.URL+"/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("health body = %v", body)
	}
}
