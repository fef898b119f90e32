package notify

import (
	"context"
	"testing"
)

func TestIsConfigured(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   bool
	}{
		{"empty", Config{}, false},
		{"missing from", Config{Host: "smtp.example.com", Port: "587"}, false},
		{"complete", Config{Host: "smtp.example.com", Port: "587", From: "noreply@example.com"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewService(tt.config).IsConfigured(); got != tt.want {
				t.Fatalf("IsConfigured() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNotifyUnconfiguredIsNoop(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.Notify(context.Background(), []string{"a@example.com"}, "subject", "body"); err != nil {
		t.Fatalf("Notify on unconfigured service: %v", err)
	}
}

func TestNotifyEmptyRecipients(t *testing.T) {
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "noreply@example.com"})
	if err := svc.Notify(context.Background(), nil, "subject", "body"); err != nil {
		t.Fatalf("Notify with no recipients: %v", err)
	}
}
