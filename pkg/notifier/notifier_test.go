package notifier

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"leadforge/pkg/models"
)

func TestSend_UnconfiguredNoOps(t *testing.T) {
	n := New(Config{})
	if n.Send("ops@example.com", "subject", "body") {
		t.Error("expected Send to return false when unconfigured")
	}
}

func TestBuildMessage_PlainText(t *testing.T) {
	msg := buildMessage("from@x.com", "to@y.com", "hello", "body text", "")

	for _, want := range []string{"From: from@x.com", "To: to@y.com", "Subject: hello", "body text"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected message to contain %q", want)
		}
	}
	if strings.Contains(msg, "multipart") {
		t.Error("expected no multipart encoding for a text-only message")
	}
}

func TestBuildMessage_HTMLAlternative(t *testing.T) {
	msg := buildMessage("from@x.com", "to@y.com", "hello", "plain", "<b>rich</b>")

	for _, want := range []string{"multipart/alternative", "text/plain", "text/html", "plain", "<b>rich</b>"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected message to contain %q", want)
		}
	}
}

func TestNotifyComplete_SkipsWithoutRecipient(t *testing.T) {
	n := New(Config{Host: "smtp.example.com"})
	run := &models.CampaignRun{ID: uuid.New(), Status: models.RunCompleted}
	if n.NotifyComplete(models.NotificationTarget{}, "campaign", run) {
		t.Error("expected NotifyComplete to be a no-op without a recipient")
	}
}

func TestNotifyFailure_SkipsWithoutRecipient(t *testing.T) {
	n := New(Config{Host: "smtp.example.com"})
	now := time.Now()
	run := &models.CampaignRun{ID: uuid.New(), Status: models.RunFailed, CompletedAt: &now}
	if n.NotifyFailure(models.NotificationTarget{}, "campaign", run, "boom", false) {
		t.Error("expected NotifyFailure to be a no-op without a recipient")
	}
}
