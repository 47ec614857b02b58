package concierge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSubmitWishAndConfirm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/tasks":
			if r.Method != http.MethodPost {
				t.Fatalf("unexpected method %s", r.Method)
			}
			var body WishSubmission
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode submission: %v", err)
			}
			if body.Wish == "" {
				t.Fatalf("expected wish in payload")
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(Task{ID: "task-1", UserID: body.UserID, Wish: body.Wish, Status: "proposed"})
		case "/api/v1/tasks/task-1/confirm":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(Task{ID: "task-1", Status: "confirmed"})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	created, err := client.SubmitWish(context.Background(), WishSubmission{UserID: "u1", Wish: "买一本书"})
	if err != nil {
		t.Fatalf("submit wish: %v", err)
	}
	if created.ID != "task-1" || created.Status != "proposed" {
		t.Fatalf("unexpected task: %+v", created)
	}

	confirmed, err := client.Confirm(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != "confirmed" {
		t.Fatalf("expected confirmed status, got %s", confirmed.Status)
	}
}

func TestStatusAndLog(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/tasks/task-2/status":
			_ = json.NewEncoder(w).Encode(ExecutionStatus{
				TaskID:             "task-2",
				Status:             "awaiting_credentials",
				RequiresCredential: true,
				RequiredService:    "marketplace",
				CompletedSteps:     []string{"opened_url"},
			})
		case "/api/v1/tasks/task-2/log":
			_ = json.NewEncoder(w).Encode([]LogEntry{
				{TaskID: "task-2", Sequence: 1, Step: "opened_url", Outcome: "success"},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	status, err := client.Status(context.Background(), "task-2")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.RequiresCredential || status.RequiredService != "marketplace" {
		t.Fatalf("unexpected status: %+v", status)
	}

	entries, err := client.Log(context.Background(), "task-2")
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if len(entries) != 1 || entries[0].Step != "opened_url" {
		t.Fatalf("unexpected log entries: %+v", entries)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"kind":"ALREADY_EXECUTING","message":"任务已在执行中"}}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.Confirm(context.Background(), "task-3")
	if err == nil {
		t.Fatalf("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("unexpected status code %d", apiErr.StatusCode)
	}
	if apiErr.Kind != "ALREADY_EXECUTING" {
		t.Fatalf("unexpected kind %q", apiErr.Kind)
	}
}

func TestCancelSendsPost(t *testing.T) {
	var gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Cancel(context.Background(), "task-4"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Fatalf("expected POST, got %s", gotMethod)
	}
}
