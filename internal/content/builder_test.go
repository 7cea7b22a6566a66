package content

import (
	"strings"
	"testing"
	"time"

	"github.com/example/clinic-notify/internal/models"
)

func testAppointment() *models.Appointment {
	return &models.Appointment{
		ID:        "apt-1",
		PatientID: "pat-1",
		StartsAt:  time.Date(2026, 3, 14, 1, 30, 0, 0, time.UTC), // 10:30 JST
		Treatment: "定期検診",
	}
}

func TestBuildReminderThreeDay(t *testing.T) {
	b := NewBuilder()
	bundle := b.Build(models.TypeReminderThreeDay, &models.Recipient{ID: "pat-1", Name: "山田太郎"}, testAppointment())

	if !strings.Contains(bundle.Text, "山田太郎") {
		t.Fatalf("expected text to contain patient name: %q", bundle.Text)
	}
	if !strings.Contains(bundle.Text, "2026年3月14日 10:30") {
		t.Fatalf("expected text to contain JST appointment time: %q", bundle.Text)
	}
	if !strings.Contains(bundle.Subject, "3日後") {
		t.Fatalf("unexpected subject: %q", bundle.Subject)
	}
	if bundle.Flex == nil || bundle.Flex["type"] != "bubble" {
		t.Fatalf("expected flex bubble payload, got %v", bundle.Flex)
	}
	if bundle.AltText == "" {
		t.Fatal("expected non-empty alt text")
	}
}

func TestBuildUnknownTypeFallsBackToGeneric(t *testing.T) {
	b := NewBuilder()
	bundle := b.Build(models.NotificationType("totally-new"), &models.Recipient{ID: "pat-1"}, nil)

	if bundle.Text == "" || bundle.Subject == "" {
		t.Fatalf("expected generic content, got %+v", bundle)
	}
	if !strings.Contains(bundle.Subject, "お知らせ") {
		t.Fatalf("expected generic subject, got %q", bundle.Subject)
	}
}

func TestBuildWithoutAppointmentOmitsDate(t *testing.T) {
	b := NewBuilder()
	bundle := b.Build(models.TypeGeneric, nil, nil)

	if strings.Contains(bundle.Text, "{datetime}") {
		t.Fatalf("expected placeholders to be expanded: %q", bundle.Text)
	}
}

func TestReplyTemplates(t *testing.T) {
	b := NewBuilder(WithClinicName("テスト歯科"))

	welcome := b.Reply(ReplyWelcome)
	if !strings.Contains(welcome, "テスト歯科") {
		t.Fatalf("expected clinic name in welcome reply: %q", welcome)
	}
	if b.Reply(ReplyKind("nope")) != b.Reply(ReplyFallback) {
		t.Fatal("expected unknown reply kind to fall back")
	}
}
