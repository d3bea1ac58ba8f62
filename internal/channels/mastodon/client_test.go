package mastodon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClient_PostStatus(t *testing.T) {
	var gotAuth, gotStatus, gotReplyTo string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/statuses" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		gotStatus = r.PostForm.Get("status")
		gotReplyTo = r.PostForm.Get("in_reply_to_id")
		json.NewEncoder(w).Encode(Status{ID: "42"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	status, err := c.PostStatus(context.Background(), "@alice https://anagora.org/agora", "41")
	if err != nil {
		t.Fatalf("PostStatus: %v", err)
	}
	if status.ID != "42" {
		t.Errorf("ID = %q", status.ID)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotStatus != "@alice https://anagora.org/agora" || gotReplyTo != "41" {
		t.Errorf("form = (%q, %q)", gotStatus, gotReplyTo)
	}
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Record not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	_, err := c.VerifyCredentials(context.Background())
	if err == nil {
		t.Fatal("want error on 404")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error %q does not carry the status code", err)
	}
}

func TestClient_Followers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/accounts/7/followers" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]Account{{ID: "1", Acct: "alice"}, {ID: "2", Acct: "bob@remote.example"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	accounts, err := c.Followers(context.Background(), "7")
	if err != nil {
		t.Fatalf("Followers: %v", err)
	}
	if len(accounts) != 2 || accounts[1].Acct != "bob@remote.example" {
		t.Errorf("accounts = %+v", accounts)
	}
}

func TestClient_Reblog(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q", r.Method)
		}
		gotPath = r.URL.Path
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	if err := c.Reblog(context.Background(), "42"); err != nil {
		t.Fatalf("Reblog: %v", err)
	}
	if gotPath != "/api/v1/statuses/42/reblog" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestStreamingURL(t *testing.T) {
	c := NewClient("https://social.example", "tok/en")

	got := c.StreamingURL("user", "")
	if !strings.HasPrefix(got, "wss://social.example/api/v1/streaming?") {
		t.Errorf("url = %q", got)
	}
	if !strings.Contains(got, "stream=user") || !strings.Contains(got, "access_token=tok%2Fen") {
		t.Errorf("url = %q", got)
	}

	got = c.StreamingURL("list", "9")
	if !strings.Contains(got, "stream=list") || !strings.Contains(got, "list=9") {
		t.Errorf("list url = %q", got)
	}
}
