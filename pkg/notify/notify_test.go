package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mountsync/mountsync/pkg/config"
	"github.com/mountsync/mountsync/pkg/report"
)

// failingTransport always fails, for policy tests.
type failingTransport struct{}

func (failingTransport) Name() string                            { return "failing" }
func (failingTransport) Send(_ context.Context, _ string) error { return errors.New("boom") }

// recordingTransport captures the last sent body.
type recordingTransport struct {
	bodies []string
}

func (r *recordingTransport) Name() string { return "recording" }
func (r *recordingTransport) Send(_ context.Context, body string) error {
	r.bodies = append(r.bodies, body)
	return nil
}

func TestShouldNotify(t *testing.T) {
	cases := []struct {
		name      string
		onFailure bool
		initial   bool
		changed   bool
		success   bool
		want      bool
	}{
		{"initial success always notifies", false, true, false, true, true},
		{"initial with changes notifies", false, true, true, true, true},
		{"resync with changes notifies", false, false, true, true, true},
		{"resync without changes stays quiet", false, false, false, true, false},
		{"failure stays quiet by default", false, false, true, false, false},
		{"failure notifies when configured", true, false, true, false, true},
		{"failed initial stays quiet by default", false, true, false, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := New(NoneTransport{}, tc.onFailure)
			if got := n.ShouldNotify(tc.initial, tc.changed, tc.success); got != tc.want {
				t.Errorf("ShouldNotify(%v, %v, %v) = %v, want %v", tc.initial, tc.changed, tc.success, got, tc.want)
			}
		})
	}
}

func TestBuildMessage(t *testing.T) {
	summary := report.NewCategorySummary()
	summary.Add("flac files (audio tracks)", 3)
	summary.Add("lrc files (lyrics files)", 2)

	got := BuildMessage(summary, "Sync triggered by drive mount")
	want := "Sync triggered by drive mount\n3 flac files (audio tracks)\n2 lrc files (lyrics files)"
	if got != want {
		t.Errorf("BuildMessage() = %q, want %q", got, want)
	}

	t.Run("nil summary keeps just the context", func(t *testing.T) {
		if got := BuildMessage(nil, "Sync failed"); got != "Sync failed" {
			t.Errorf("BuildMessage(nil) = %q", got)
		}
	})
}

func TestNotify(t *testing.T) {
	summary := report.NewCategorySummary()
	summary.Add("flac files (audio tracks)", 1)

	t.Run("successful send returns true", func(t *testing.T) {
		rec := &recordingTransport{}
		n := New(rec, false)
		if !n.Notify(context.Background(), summary, "Initial sync complete") {
			t.Fatal("Notify() = false on working transport")
		}
		if len(rec.bodies) != 1 || !strings.HasPrefix(rec.bodies[0], "Initial sync complete") {
			t.Errorf("sent bodies = %v", rec.bodies)
		}
	})

	t.Run("transport failure returns false without error", func(t *testing.T) {
		n := New(failingTransport{}, false)
		if n.Notify(context.Background(), summary, "Initial sync complete") {
			t.Fatal("Notify() = true on failing transport")
		}
	})

	t.Run("none transport always succeeds", func(t *testing.T) {
		n := New(NoneTransport{}, false)
		if !n.Notify(context.Background(), summary, "whatever") {
			t.Fatal("Notify() = false on none transport")
		}
	})
}

func TestTelegramTransport(t *testing.T) {
	t.Run("successful send", func(t *testing.T) {
		var gotPath, gotChatID, gotText string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			if err := r.ParseForm(); err != nil {
				t.Errorf("ParseForm: %v", err)
			}
			gotChatID = r.PostFormValue("chat_id")
			gotText = r.PostFormValue("text")
			w.Write([]byte(`{"ok": true, "result": {"message_id": 1}}`))
		}))
		defer srv.Close()

		transport := NewTelegramTransport("123:abc", "42")
		transport.baseURL = srv.URL

		if err := transport.Send(context.Background(), "2 flac files (audio tracks)"); err != nil {
			t.Fatalf("Send() error: %v", err)
		}
		if gotPath != "/bot123:abc/sendMessage" {
			t.Errorf("request path = %q", gotPath)
		}
		if gotChatID != "42" || gotText != "2 flac files (audio tracks)" {
			t.Errorf("form = chat_id %q, text %q", gotChatID, gotText)
		}
	})

	t.Run("logical failure with ok false", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"ok": false, "description": "Bad Request: chat not found"}`))
		}))
		defer srv.Close()

		transport := NewTelegramTransport("123:abc", "42")
		transport.baseURL = srv.URL

		err := transport.Send(context.Background(), "hello")
		if err == nil {
			t.Fatal("Send() succeeded on ok=false response")
		}
		if !strings.Contains(err.Error(), "chat not found") {
			t.Errorf("error %q does not carry the API description", err)
		}
	})

	t.Run("unreachable server", func(t *testing.T) {
		transport := NewTelegramTransport("123:abc", "42")
		transport.baseURL = "http://127.0.0.1:1"

		if err := transport.Send(context.Background(), "hello"); err == nil {
			t.Fatal("Send() succeeded against unreachable server")
		}
	})
}

func TestSMSLegacyTransport(t *testing.T) {
	cfg := config.SMSConfig{
		AccountSID:         "AC0",
		AuthToken:          "tok",
		ToNumber:           "+15550100",
		MessagingServiceID: "MG0",
	}

	t.Run("successful send", func(t *testing.T) {
		var gotUser, gotTo, gotBody string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotUser, _, _ = r.BasicAuth()
			if err := r.ParseForm(); err != nil {
				t.Errorf("ParseForm: %v", err)
			}
			gotTo = r.PostFormValue("To")
			gotBody = r.PostFormValue("Body")
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"sid": "SM1", "status": "queued"}`))
		}))
		defer srv.Close()

		transport := NewSMSLegacyTransport(cfg)
		transport.baseURL = srv.URL

		if err := transport.Send(context.Background(), "1 flac files (audio tracks)"); err != nil {
			t.Fatalf("Send() error: %v", err)
		}
		if gotUser != "AC0" || gotTo != "+15550100" || gotBody != "1 flac files (audio tracks)" {
			t.Errorf("request = user %q, to %q, body %q", gotUser, gotTo, gotBody)
		}
	})

	t.Run("rejected send carries API message", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"code": 20003, "message": "Authentication Error"}`))
		}))
		defer srv.Close()

		transport := NewSMSLegacyTransport(cfg)
		transport.baseURL = srv.URL

		err := transport.Send(context.Background(), "hello")
		if err == nil {
			t.Fatal("Send() succeeded on 401 response")
		}
		if !strings.Contains(err.Error(), "Authentication Error") {
			t.Errorf("error %q does not carry the API message", err)
		}
	})
}

func TestNewTransport(t *testing.T) {
	cases := []struct {
		method   string
		wantName string
	}{
		{config.NotifyNone, "none"},
		{config.NotifyTelegram, "telegram"},
		{config.NotifySMSLegacy, "sms-legacy"},
	}
	for _, tc := range cases {
		t.Run(tc.method, func(t *testing.T) {
			transport, err := NewTransport(config.NotifyConfig{Method: tc.method})
			if err != nil {
				t.Fatalf("NewTransport(%q) error: %v", tc.method, err)
			}
			if transport.Name() != tc.wantName {
				t.Errorf("transport name = %q, want %q", transport.Name(), tc.wantName)
			}
		})
	}

	t.Run("unknown method", func(t *testing.T) {
		if _, err := NewTransport(config.NotifyConfig{Method: "carrier-pigeon"}); err == nil {
			t.Fatal("NewTransport accepted an unknown method")
		}
	})
}
