package bootstrap

import (
	"errors"
	"testing"
	"time"

	"tryon/internal/domain"
	"tryon/internal/infra"
)

func testConfig(secondary string) *infra.Config {
	kc := infra.KlingConfig{
		AccessKey: "ak-test",
		SecretKey: "sk-test",
		BaseURL:   "http://127.0.0.1:1",
		Model:     "kolors-virtual-try-on-v1-5",
		TokenTTL:  30 * time.Minute,
	}
	return &infra.Config{
		Kling:          kc,
		KlingSecondary: kc,
		Secondary:      secondary,
		Gradio:         infra.GradioConfig{SpaceURL: "http://127.0.0.1:2", APIName: "tryon"},
		Poll:           infra.PollConfig{Interval: time.Second, MaxAttempts: 3, Timeout: 10 * time.Second, CheckAttempts: 2},
		ImageMaxBytes:  1 << 20,
		ImageReencodes: 2,
		ResultMaxBytes: 1 << 20,
	}
}

func TestBuildProviderChains(t *testing.T) {
	cases := []struct {
		secondary string
		want      []string
	}{
		{infra.SecondaryGradio, []string{"kling", "gradio"}},
		{infra.SecondaryKling, []string{"kling", "kling-secondary"}},
		{infra.SecondaryNone, []string{"kling"}},
	}
	for _, tc := range cases {
		t.Run(tc.secondary, func(t *testing.T) {
			svc, err := Build(testConfig(tc.secondary), nil, nil)
			if err != nil {
				t.Fatalf("Build returned error: %v", err)
			}
			if len(svc.Clients) != len(tc.want) {
				t.Fatalf("clients = %d, want %d", len(svc.Clients), len(tc.want))
			}
			for i, name := range tc.want {
				if svc.Clients[i].Name() != name {
					t.Fatalf("client %d = %q, want %q", i, svc.Clients[i].Name(), name)
				}
			}
			if svc.Clients[0].Role() != domain.RolePrimary {
				t.Fatalf("first client role = %s", svc.Clients[0].Role())
			}
			if len(svc.Clients) > 1 && svc.Clients[1].Role() != domain.RoleSecondary {
				t.Fatalf("second client role = %s", svc.Clients[1].Role())
			}
			if got := len(svc.Coordinator.Providers()); got != len(tc.want) {
				t.Fatalf("coordinator providers = %d", got)
			}
		})
	}
}

func TestBuildRejectsBadCredential(t *testing.T) {
	cfg := testConfig(infra.SecondaryNone)
	cfg.Kling.SecretKey = ""
	if _, err := Build(cfg, nil, nil); !errors.Is(err, domain.ErrInvalidCredential) {
		t.Fatalf("error = %v, want ErrInvalidCredential", err)
	}
}

func TestBuildRejectsUnknownSecondary(t *testing.T) {
	if _, err := Build(testConfig("replicate"), nil, nil); err == nil {
		t.Fatalf("expected error for unknown secondary")
	}
	if _, err := Build(nil, nil, nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}
