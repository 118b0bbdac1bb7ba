package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 2*time.Second, func(ctx context.Context) (string, error) {
		return "test-token", nil
	})
}

func TestSendMessage(t *testing.T) {
	var gotAuth string
	var gotReq SendMessageRequest
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(SendMessageResponse{Success: true, ID: 77})
	})

	resp, err := c.SendMessage(context.Background(), &SendMessageRequest{
		SenderID:   "u1",
		ReceiverID: "u2",
		Text:       "hello",
		Kind:       "text",
		CreatedAt:  1700000000000,
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if resp.ID != 77 {
		t.Errorf("server id = %d, want 77", resp.ID)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotReq.Text != "hello" || gotReq.CreatedAt != 1700000000000 {
		t.Errorf("server saw %+v", gotReq)
	}
}

func TestEditMessageWindowRejection(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Too late to edit (5 min limit)"})
	})

	err := c.EditMessage(context.Background(), 77, "edited", "u1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRejected(err) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestClientErrorIsRejection(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	})

	err := c.DeleteMessage(context.Background(), 1, "u1")
	if !IsRejected(err) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := c.SendMessage(context.Background(), &SendMessageRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsRejected(err) {
		t.Fatalf("5xx must not be terminal, got %v", err)
	}
}

func TestNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewClient(srv.URL, 500*time.Millisecond, nil)

	_, err := c.FetchChats(context.Background(), "u1")
	if err == nil {
		t.Fatal("expected error")
	}
	if IsRejected(err) {
		t.Fatalf("network failure must not be terminal, got %v", err)
	}
}

func TestFetchMessages(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("user1") != "u1" || r.URL.Query().Get("user2") != "u2" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(MessagesResponse{
			Success:    true,
			VanishMode: true,
			Messages: []MessageDTO{
				{ID: 1, SenderID: "u2", Text: "hi", CreatedAt: 1700000000000},
			},
		})
	})

	resp, err := c.FetchMessages(context.Background(), "u1", "u2")
	if err != nil {
		t.Fatalf("FetchMessages: %v", err)
	}
	if !resp.VanishMode {
		t.Error("vanish mode flag lost")
	}
	if len(resp.Messages) != 1 || resp.Messages[0].SenderID != "u2" {
		t.Errorf("messages = %+v", resp.Messages)
	}
}

func TestStatusesBatch(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("userIds"); got != "u1,u2,u3" {
			t.Errorf("userIds = %q", got)
		}
		_ = json.NewEncoder(w).Encode(statusesResponse{Statuses: []PresenceStatus{
			{UID: "u1", LastActive: 1700000000000},
			{UID: "u2", LastActive: 0},
		}})
	})

	got, err := c.Statuses(context.Background(), []string{"u1", "u2", "u3"})
	if err != nil {
		t.Fatalf("Statuses: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d statuses", len(got))
	}
	if got[1].LastActive != 0 {
		t.Error("explicit offline sentinel lost")
	}
}

func TestStatusesEmptyBatchSkipsRequest(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	got, err := c.Statuses(context.Background(), nil)
	if err != nil || got != nil {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestPing(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("any HTTP response should count as reachable: %v", err)
	}

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	dead := NewClient(srv.URL, 500*time.Millisecond, nil)
	if err := dead.Ping(context.Background()); err == nil {
		t.Fatal("expected probe failure against closed server")
	}
}
