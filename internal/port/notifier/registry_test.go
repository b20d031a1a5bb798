package notifier

import (
	"context"
	"slices"
	"testing"
	"time"
)

type stubNotifier struct {
	name string
	ep   Endpoint
}

func (s stubNotifier) Name() string                           { return s.name }
func (stubNotifier) Send(context.Context, Notification) error { return nil }

func stubFactory(name string) Factory {
	return func(ep Endpoint) (Notifier, error) { return stubNotifier{name: name, ep: ep}, nil }
}

func init() {
	Register("test-b", stubFactory("test-b"))
	Register("test-a", stubFactory("test-a"))
}

func TestNew(t *testing.T) {
	ep := Endpoint{WebhookURL: "https://hooks.example.com/x", Timeout: 3 * time.Second}
	n, err := New("test-a", ep)
	if err != nil {
		t.Fatal(err)
	}
	if got := n.(stubNotifier).ep; got != ep {
		t.Errorf("factory received %+v, want %+v", got, ep)
	}
	if !slices.Contains(Available(), "test-a") {
		t.Errorf("Available() = %v", Available())
	}
}

func TestNewRejects(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		url      string
	}{
		{"unknown provider", "absent", "https://hooks.example.com/x"},
		{"relative url", "test-a", "/hooks/x"},
		{"unsupported scheme", "test-a", "ftp://hooks.example.com/x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.provider, Endpoint{WebhookURL: tt.url}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestBuildSkipsEmptyAndSorts(t *testing.T) {
	got, err := Build(map[string]Endpoint{
		"test-b": {WebhookURL: "https://b.example.com"},
		"test-a": {WebhookURL: "https://a.example.com"},
		"absent": {},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name() != "test-a" || got[1].Name() != "test-b" {
		t.Errorf("Build() = %+v", got)
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	Register("test-a", stubFactory("test-a"))
}
