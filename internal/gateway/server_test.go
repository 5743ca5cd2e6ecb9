package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lhdbsbz/adarelay/internal/config"
	"github.com/lhdbsbz/adarelay/internal/cron"
	"github.com/lhdbsbz/adarelay/internal/relay"
	"github.com/lhdbsbz/adarelay/internal/sunco"
	"github.com/lhdbsbz/adarelay/internal/sunco/suncotest"
	"github.com/lhdbsbz/adarelay/internal/tenant"
	"github.com/lhdbsbz/adarelay/internal/widget"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	upstream *suncotest.Server
	client   *sunco.Client
	svc      *relay.Service
	server   *Server
	http     *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil)
}

func newFixtureWith(t *testing.T, configure func(*config.Config)) *fixture {
	t.Helper()
	upstream := suncotest.NewServer()
	t.Cleanup(upstream.Close)

	store, err := tenant.NewFileStore(filepath.Join(t.TempDir(), "tenants.json"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	client := sunco.NewClient(upstream.URL, 5*time.Second)
	svc := &relay.Service{Tenants: store, Upstream: client}

	cfg := config.DefaultConfig()
	cfg.Widget.PollInterval = 5 * time.Millisecond
	cfg.Widget.MaxAttempts = 200
	if configure != nil {
		configure(cfg)
	}

	server := NewServer(cfg, svc)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return &fixture{upstream: upstream, client: client, svc: svc, server: server, http: srv}
}

// setup registers a tenant through the form endpoint and returns its hashedId.
func (f *fixture) setup(t *testing.T) string {
	t.Helper()
	code, body := f.postJSON(t, "/setup", map[string]string{
		"suncoAppId":      "app_1",
		"suncoKeyId":      f.upstream.KeyID,
		"suncoSecret":     f.upstream.Secret,
		"adaInstanceName": "acme",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	id, _ := body["hashedId"].(string)
	require.Len(t, id, 32)
	return id
}

func (f *fixture) postJSON(t *testing.T, path string, v any) (int, map[string]any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	resp, err := http.Post(f.http.URL+path, "application/json", strings.NewReader(string(data)))
	require.NoError(t, err)
	return decode(t, resp)
}

func (f *fixture) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(f.http.URL + path)
	require.NoError(t, err)
	return decode(t, resp)
}

func decode(t *testing.T, resp *http.Response) (int, map[string]any) {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func (f *fixture) creds(tenantID string) sunco.Credentials {
	return sunco.Credentials{TenantID: tenantID, AppID: "app_1", KeyID: f.upstream.KeyID, Secret: f.upstream.Secret}
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t)
	id := f.setup(t)

	code, body := f.postJSON(t, "/api/messages", map[string]string{
		"ticketId":        "42",
		"customerMessage": "Hello",
		"hashedId":        id,
	})
	require.Equal(t, http.StatusOK, code)
	msgID, _ := body["messageId"].(string)
	require.NotEmpty(t, msgID)

	appUserID, err := f.client.ResolveOrCreateUser(context.Background(), f.creds(id), "42")
	require.NoError(t, err)
	msgs := f.upstream.Messages(appUserID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello", msgs[0].Text)
	assert.Equal(t, sunco.RoleAppUser, msgs[0].Role)
	assert.Equal(t, msgID, msgs[0].ID)
	assert.Equal(t, 1, f.upstream.UserCount())
}

func TestLatestMessage(t *testing.T) {
	f := newFixture(t)
	id := f.setup(t)

	code, body := f.get(t, "/api/messages?ticketId=42&hashedId="+id)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "latestMessage")
	assert.Nil(t, body["latestMessage"])

	code, _ = f.postJSON(t, "/api/messages", map[string]string{"ticketId": "42", "customerMessage": "Hello", "hashedId": id})
	require.Equal(t, http.StatusOK, code)
	appUserID, err := f.client.ResolveOrCreateUser(context.Background(), f.creds(id), "42")
	require.NoError(t, err)
	f.upstream.Reply(appUserID, "Have you tried restarting?")

	code, body = f.get(t, "/api/messages?ticketId=42&after=x&hashedId="+id)
	require.Equal(t, http.StatusOK, code)
	latest, ok := body["latestMessage"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, sunco.RoleAppMaker, latest["role"])
	assert.Equal(t, "Have you tried restarting?", latest["text"])
	assert.NotEmpty(t, latest["_id"])
}

func TestSetupRequired(t *testing.T) {
	f := newFixture(t)
	before := f.upstream.Calls.Load()

	tests := []struct {
		name string
		do   func() (int, map[string]any)
	}{
		{"send unknown tenant", func() (int, map[string]any) {
			return f.postJSON(t, "/api/messages", map[string]string{"ticketId": "42", "customerMessage": "Hello", "hashedId": "invalid"})
		}},
		{"send without tenant", func() (int, map[string]any) {
			return f.postJSON(t, "/api/messages", map[string]string{"ticketId": "42", "customerMessage": "Hello"})
		}},
		{"latest unknown tenant", func() (int, map[string]any) {
			return f.get(t, "/api/messages?ticketId=42&hashedId=invalid")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := tt.do()
			assert.Equal(t, http.StatusNotFound, code)
			assert.Equal(t, "SETUP_REQUIRED", body["code"])
			assert.NotEmpty(t, body["error"])
		})
	}
	assert.Equal(t, before, f.upstream.Calls.Load(), "upstream must not be called without configuration")
}

func TestBadRequests(t *testing.T) {
	f := newFixture(t)
	id := f.setup(t)

	code, _ := f.postJSON(t, "/api/messages", map[string]string{"customerMessage": "Hello", "hashedId": id})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.postJSON(t, "/api/messages", map[string]string{"ticketId": "42", "hashedId": id})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.get(t, "/api/messages?hashedId="+id)
	assert.Equal(t, http.StatusBadRequest, code)

	resp, err := http.Post(f.http.URL+"/api/messages", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	code, _ = decode(t, resp)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestUpstreamFailuresAreGeneric(t *testing.T) {
	f := newFixture(t)
	id := f.setup(t)

	f.upstream.Fail("post_message", http.StatusBadGateway)
	code, body := f.postJSON(t, "/api/messages", map[string]string{"ticketId": "42", "customerMessage": "Hello", "hashedId": id})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, map[string]any{"error": "Failed to send message"}, body)

	f.upstream.Fail("list_messages", http.StatusInternalServerError)
	code, body = f.get(t, "/api/messages?ticketId=42&hashedId="+id)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, map[string]any{"error": "Failed to get messages"}, body)
}

func TestSetup(t *testing.T) {
	f := newFixture(t)

	t.Run("form post", func(t *testing.T) {
		resp, err := http.PostForm(f.http.URL+"/setup", url.Values{
			"suncoAppId":  {"app_1"},
			"suncoKeyId":  {"key"},
			"suncoSecret": {"secret"},
		})
		require.NoError(t, err)
		code, body := decode(t, resp)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "Configuration saved successfully", body["message"])

		cfg, err := f.svc.Tenants.Load(context.Background(), body["hashedId"].(string))
		require.NoError(t, err)
		assert.Equal(t, "app_1", cfg.AppID)
	})

	t.Run("missing credential", func(t *testing.T) {
		code, body := f.postJSON(t, "/setup", map[string]string{"suncoAppId": "app_1", "suncoKeyId": "key"})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, false, body["success"])
	})

	t.Run("distinct ids", func(t *testing.T) {
		assert.NotEqual(t, f.setup(t), f.setup(t))
	})
}

func TestSetupPageAndHealth(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.http.URL + "/setup")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	code, body := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["uptime"])

	resp, err = http.Get(f.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodOptions, f.http.URL+"/api/messages", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://acme.zendesk.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	req, err = http.NewRequest(http.MethodGet, f.http.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://acme.zendesk.com")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, "*", resp2.Header.Get("Access-Control-Allow-Origin"))
}

// The widget's HTTP client and poll loop against the real handlers.
func TestWidgetAgainstRelay(t *testing.T) {
	f := newFixture(t)
	id := f.setup(t)

	appUserID, err := f.client.ResolveOrCreateUser(context.Background(), f.creds(id), "42")
	require.NoError(t, err)
	go replyAfterPost(f.upstream, appUserID, "Please restart the router.")

	p := &widget.Poller{
		Relay:       widget.NewClient(f.http.URL, id, 5*time.Second),
		Interval:    5 * time.Millisecond,
		MaxAttempts: 200,
	}
	text, err := p.Run(context.Background(), "42", "Jane (Customer): router down")
	require.NoError(t, err)
	assert.Equal(t, "Please restart the router.", text)
}

func TestWidgetSetupRequiredAgainstRelay(t *testing.T) {
	f := newFixture(t)

	p := &widget.Poller{Relay: widget.NewClient(f.http.URL, "invalid", time.Second), Interval: time.Millisecond}
	_, err := p.Run(context.Background(), "42", "hi")
	assert.ErrorIs(t, err, widget.ErrSetupRequired)
}

func replyAfterPost(upstream *suncotest.Server, appUserID, text string) {
	for i := 0; i < 1000; i++ {
		if len(upstream.Messages(appUserID)) > 0 {
			upstream.Reply(appUserID, text)
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestRejectedCredentialsAreLogged(t *testing.T) {
	f := newFixture(t)
	id, err := f.svc.Tenants.Save(context.Background(), tenant.Config{
		AppID:  "app_1",
		KeyID:  f.upstream.KeyID,
		Secret: "rotated-away",
	})
	require.NoError(t, err)

	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	code, body := f.postJSON(t, "/api/messages", map[string]string{"ticketId": "42", "customerMessage": "Hello", "hashedId": id})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, map[string]any{"error": "Failed to send message"}, body)
	assert.Contains(t, logs.String(), "upstream rejected credentials")
	assert.Contains(t, logs.String(), "status=401")
}

func TestHealthReportsKeepalive(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(target.Close)

	sched := cron.NewScheduler(target.Client())
	require.NoError(t, sched.SetKeepalive(target.URL, "@every 1h"))
	require.Eventually(t, func() bool { return len(sched.Runs()) == 1 }, 5*time.Second, 5*time.Millisecond)

	f := newFixture(t)
	server := NewServer(config.DefaultConfig(), f.svc)
	server.Scheduler = sched
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	code, body := decode(t, resp)
	require.Equal(t, http.StatusOK, code)
	run, ok := body["keepalive"].(map[string]any)
	require.True(t, ok, "health body: %v", body)
	assert.Equal(t, true, run["success"])
	assert.Equal(t, sched.List()[0].ID, run["jobId"])

	_, body = f.get(t, "/health")
	assert.NotContains(t, body, "keepalive")
}
