package assist

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeProvider struct {
	prompt string
	reply  string
	err    error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Explain(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.reply, f.err
}

func (f *fakeProvider) Close() error { return nil }

func TestNew_NoKeyReturnsNotConfigured(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := New(context.Background(), Options{Provider: "anthropic"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("New() error = %v, want ErrNotConfigured", err)
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Options{Provider: "cohere"})
	if err == nil {
		t.Fatal("New() with unknown provider should return error")
	}
	if errors.Is(err, ErrNotConfigured) {
		t.Errorf("New() error = %v, want a distinct unknown-provider error", err)
	}
}

func TestNew_SelectsProvider(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		keyEnv   string
	}{
		{name: "anthropic", provider: "anthropic", keyEnv: "ANTHROPIC_API_KEY"},
		{name: "anthropic by default", provider: "", keyEnv: "ANTHROPIC_API_KEY"},
		{name: "openai", provider: "openai", keyEnv: "OPENAI_API_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.keyEnv, "test-key")

			p, err := New(context.Background(), Options{Provider: tt.provider})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer p.Close()

			want := tt.provider
			if want == "" {
				want = "anthropic"
			}
			if p.Name() != want {
				t.Errorf("Name() = %q, want %q", p.Name(), want)
			}
		})
	}
}

func TestNew_CustomKeyEnv(t *testing.T) {
	t.Setenv("MY_SECRET", "test-key")
	t.Setenv("ANTHROPIC_API_KEY", "")

	p, err := New(context.Background(), Options{Provider: "anthropic", APIKeyEnv: "MY_SECRET"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer p.Close()
}

func TestExplainer_PassesRenderedPrompt(t *testing.T) {
	fake := &fakeProvider{reply: "the loop is on its third iteration"}
	explainer := NewExplainer(fake)

	got, err := explainer.Explain(context.Background(), Report{
		Point: "1000",
		Time:  250,
		Frames: []Frame{
			{Name: "computeTotal", Location: "http://app/cart.js:42"},
			{Name: "", Location: "http://app/main.js:7"},
		},
		Scopes: []string{"total = 12", "items = Array(3)"},
		Source: "for (const item of items) {",
	})
	if err != nil {
		t.Fatalf("Explain() error = %v", err)
	}
	if got != fake.reply {
		t.Errorf("Explain() = %q, want %q", got, fake.reply)
	}

	for _, want := range []string{
		"point 1000",
		"computeTotal at http://app/cart.js:42",
		"(anonymous) at http://app/main.js:7",
		"total = 12",
		"for (const item of items) {",
		"Explain what is happening",
	} {
		if !strings.Contains(fake.prompt, want) {
			t.Errorf("prompt missing %q\nprompt:\n%s", want, fake.prompt)
		}
	}
}

func TestExplainer_CustomQuestion(t *testing.T) {
	fake := &fakeProvider{reply: "ok"}
	explainer := NewExplainer(fake)

	_, err := explainer.Explain(context.Background(), Report{
		Point:    "1000",
		Question: "why is total negative?",
	})
	if err != nil {
		t.Fatalf("Explain() error = %v", err)
	}
	if !strings.Contains(fake.prompt, "why is total negative?") {
		t.Errorf("prompt missing question\nprompt:\n%s", fake.prompt)
	}
	if strings.Contains(fake.prompt, "Explain what is happening") {
		t.Error("prompt contains default question alongside custom one")
	}
}

func TestExplainer_EmptySectionsOmitted(t *testing.T) {
	fake := &fakeProvider{reply: "ok"}
	explainer := NewExplainer(fake)

	if _, err := explainer.Explain(context.Background(), Report{Point: "5"}); err != nil {
		t.Fatalf("Explain() error = %v", err)
	}
	for _, absent := range []string{"Call stack", "In scope", "Source around"} {
		if strings.Contains(fake.prompt, absent) {
			t.Errorf("prompt has empty section %q\nprompt:\n%s", absent, fake.prompt)
		}
	}
}

func TestExplainer_ProviderErrorPropagates(t *testing.T) {
	wantErr := errors.New("rate limited")
	explainer := NewExplainer(&fakeProvider{err: wantErr})

	_, err := explainer.Explain(context.Background(), Report{Point: "1"})
	if !errors.Is(err, wantErr) {
		t.Errorf("Explain() error = %v, want %v", err, wantErr)
	}
}
