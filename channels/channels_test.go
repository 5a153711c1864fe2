package channels

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestRegistry_New(t *testing.T) {
	// WHAT: Factories are looked up by platform name.
	reg := DefaultRegistry(nil, nil)
	want := []string{"log", "twilio-whatsapp", "webhook"}
	got := reg.Platforms()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("platforms = %v", got)
	}

	s, err := reg.New(PlatformLog, "fallback", nil)
	if err != nil {
		t.Fatal(err)
	}
	rcpt, err := s.Send(context.Background(), Message{RecipientID: "+919876543210", Text: "hi"})
	if err != nil || rcpt.ProviderID == "" {
		t.Fatalf("log send = %+v, %v", rcpt, err)
	}

	// Chat-id platforms such as telegram cannot reach phone registrants.
	var nf *ErrNoPlatformFactory
	if _, err := reg.New("telegram", "x", nil); !errors.As(err, &nf) {
		t.Fatalf("err = %v, want ErrNoPlatformFactory", err)
	}
	if _, err := reg.New(PlatformTwilioWhatsApp, "wa", json.RawMessage(`{}`)); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestTwilioWhatsApp_Send(t *testing.T) {
	// WHAT: The Messages API receives whatsapp: addresses, body, media and basic auth.
	// WHY: This is the production delivery path to farmers.
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2010-04-01/Accounts/AC123/Messages.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC123" || pass != "tok" {
			t.Errorf("basic auth = %q %q %v", user, pass, ok)
		}
		r.ParseForm()
		form = r.PostForm
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"SM42","status":"queued"}`))
	}))
	defer srv.Close()

	s, err := NewTwilioWhatsApp("wa", TwilioConfig{AccountSID: "AC123", AuthToken: "tok", BaseURL: srv.URL}, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	rcpt, err := s.Send(context.Background(), Message{
		RecipientID: "+919876543210",
		Text:        "सूचना 1/3",
		Attachments: []Attachment{{Type: "audio", URL: "https://pub.example/audio/a.mp3"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if rcpt.ProviderID != "SM42" || rcpt.Status != "queued" {
		t.Errorf("receipt = %+v", rcpt)
	}
	if form.Get("From") != DefaultWhatsAppFrom || form.Get("To") != "whatsapp:+919876543210" {
		t.Errorf("addresses = %q -> %q", form.Get("From"), form.Get("To"))
	}
	if form.Get("Body") != "सूचना 1/3" || form.Get("MediaUrl") != "https://pub.example/audio/a.mp3" {
		t.Errorf("form = %v", form)
	}
}

func TestTwilioWhatsApp_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":63016,"message":"outside the allowed window","status":400}`))
	}))
	defer srv.Close()

	s, _ := NewTwilioWhatsApp("wa", TwilioConfig{AccountSID: "AC1", AuthToken: "t", BaseURL: srv.URL}, srv.Client())
	_, err := s.Send(context.Background(), Message{RecipientID: "+919876543210", Text: "x"})
	var sf *ErrSendFailed
	if !errors.As(err, &sf) {
		t.Fatalf("err = %v, want ErrSendFailed", err)
	}
	if sf.Status != http.StatusBadRequest || !strings.Contains(sf.Error(), "63016") {
		t.Errorf("send failed = %v", sf)
	}
}

func TestWebhook_SendSigned(t *testing.T) {
	// WHAT: Webhook posts the message as JSON with a verifiable signature.
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if got, want := r.Header.Get("X-Signature-256"), "sha256="+Sign(body, "s3cr3t"); got != want {
			t.Errorf("signature = %q, want %q", got, want)
		}
		json.Unmarshal(body, &got)
		w.Write([]byte(`{"id":"relay-1","status":"accepted"}`))
	}))
	defer srv.Close()

	s, err := NewWebhook("relay", WebhookConfig{URL: srv.URL, Secret: "s3cr3t", AllowPrivate: true}, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	rcpt, err := s.Send(context.Background(), Message{RecipientID: "+919876543210", Text: "hello"})
	if err != nil || rcpt.ProviderID != "relay-1" {
		t.Fatalf("receipt = %+v, %v", rcpt, err)
	}
	if got.Text != "hello" {
		t.Errorf("relayed = %+v", got)
	}
}

func TestWebhook_PrivateTargetRefused(t *testing.T) {
	_, err := NewWebhook("relay", WebhookConfig{URL: "http://127.0.0.1:9/send"}, nil)
	if err == nil {
		t.Fatal("loopback webhook accepted without allow_private")
	}
}
