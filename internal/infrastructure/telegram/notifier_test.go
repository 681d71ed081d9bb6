package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPublishDigestPostsForm(t *testing.T) {
	t.Parallel()

	var gotPath, gotChat, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotChat = r.PostForm.Get("chat_id")
		gotText = r.PostForm.Get("text")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewNotifier("TOKEN", "42").WithAPIBase(srv.URL + "/")
	if err := n.PublishDigest(context.Background(), "run-1 awaits review"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if gotPath != "/botTOKEN/sendMessage" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotChat != "42" || gotText != "run-1 awaits review" {
		t.Fatalf("unexpected form chat=%q text=%q", gotChat, gotText)
	}
}

func TestPublishDigestErrors(t *testing.T) {
	t.Parallel()

	if err := NewNotifier("", "").PublishDigest(context.Background(), "x"); err == nil {
		t.Fatal("expected misconfiguration error")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	if err := NewNotifier("t", "c").WithAPIBase(srv.URL).PublishDigest(context.Background(), "x"); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}
