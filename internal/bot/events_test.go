package bot

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"discord-invite-tracker/internal/metrics"
)

func TestNewInviteFromEvent(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := &discordgo.InviteCreate{
		Invite: &discordgo.Invite{
			Code:      "abc123",
			Inviter:   &discordgo.User{ID: "alice"},
			MaxUses:   5,
			MaxAge:    3600,
			CreatedAt: created,
		},
		ChannelID: "c1",
		GuildID:   "g1",
	}

	in := newInviteFromEvent(e)
	if in.Code != "abc123" || in.CreatorID != "alice" || in.ChannelID != "c1" {
		t.Fatalf("unexpected invite %+v", in)
	}
	if in.MaxUses == nil || *in.MaxUses != 5 {
		t.Errorf("expected max uses 5, got %v", in.MaxUses)
	}
	if in.ExpiresAt == nil || !in.ExpiresAt.Equal(created.Add(time.Hour)) {
		t.Errorf("expected expiry one hour after creation, got %v", in.ExpiresAt)
	}
}

func TestNewInviteFromEventUnlimited(t *testing.T) {
	in := newInviteFromEvent(&discordgo.InviteCreate{
		Invite:    &discordgo.Invite{Code: "forever"},
		ChannelID: "c1",
	})
	if in.CreatorID != "" {
		t.Errorf("expected no creator without an inviter, got %q", in.CreatorID)
	}
	if in.MaxUses != nil || in.ExpiresAt != nil {
		t.Errorf("expected unlimited invite, got %+v", in)
	}
}

func TestPerfTransportRecordsLatency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := &http.Client{Transport: &PerfTransport{Base: http.DefaultTransport}}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if n := histogramCount(t, "GET", "429"); n < 1 {
		t.Errorf("expected at least one observation for GET 429, got %d", n)
	}
}

func histogramCount(t *testing.T, method, status string) uint64 {
	t.Helper()
	families, err := metrics.Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		if mf.GetName() != "invite_tracker_discord_rest_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["method"] == method && labels["status"] == status {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}
