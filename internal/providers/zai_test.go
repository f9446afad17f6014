package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tnunamak/usagebar/internal/errs"
	"github.com/tnunamak/usagebar/internal/strategy"
)

const zaiBody = `{
	"code": 200, "msg": "ok", "success": true,
	"data": {"limits": [
		{"type": "TIME_LIMIT", "unit": 5, "number": 1, "usage": 100, "currentValue": 25, "nextResetTime": 1768482000000},
		{"type": "TOKENS_LIMIT", "unit": 3, "number": 5, "percentage": 42.5, "nextResetTime": 1768489200000}
	]}
}`

func zaiServer(t *testing.T, wantToken, body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/monitor/usage/quota/limit" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+wantToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(body))
	}))
}

func TestZai_envToken(t *testing.T) {
	srv := zaiServer(t, "zk-env", zaiBody)
	defer srv.Close()
	d := newTestDeps(t, srv, map[string]string{zaiTokenEnv: ` "zk-env" `})

	out, err := Fetch(context.Background(), zaiDescriptor(), d, strategy.Settings{})
	if err != nil {
		t.Fatal(err)
	}
	snap := out.Result.Usage
	if snap.Primary.UsedPercent != 42.5 || *snap.Primary.WindowMinutes != 300 {
		t.Errorf("tokens: %+v", snap.Primary)
	}
	if !snap.Primary.ResetsAt.Equal(time.UnixMilli(1768489200000)) {
		t.Errorf("tokens reset: %v", snap.Primary.ResetsAt)
	}
	if snap.Secondary == nil || snap.Secondary.UsedPercent != 25 || *snap.Secondary.WindowMinutes != 1 {
		t.Errorf("mcp: %+v", snap.Secondary)
	}
}

func TestZai_secretsFallback(t *testing.T) {
	srv := zaiServer(t, "zk-file", zaiBody)
	defer srv.Close()
	d := newTestDeps(t, srv, nil)
	writeFile(t, d.SecretsPath, "# usagebar secrets\n[zai]\nZAI_API_KEY='zk-file'\n")

	if _, err := Fetch(context.Background(), zaiDescriptor(), d, strategy.Settings{}); err != nil {
		t.Fatal(err)
	}
}

func TestZai_errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		token   string
		wantErr error
	}{
		{"missing token", zaiBody, "", errs.ConfigMissing},
		{"body 1001", `{"code":1001,"msg":"token expired","success":false}`, "zk", errs.Unauthorized},
		{"body 500", `{"code":500,"msg":"busy","success":false}`, "zk", errs.Server},
		{"no limits", `{"code":200,"success":true,"data":{"limits":[]}}`, "zk", errs.SchemaMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := zaiServer(t, "zk", tt.body)
			defer srv.Close()
			d := newTestDeps(t, srv, map[string]string{zaiTokenEnv: tt.token})

			_, err := Fetch(context.Background(), zaiDescriptor(), d, strategy.Settings{})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestZaiWindowMinutes(t *testing.T) {
	tests := []struct {
		unit, number int
		want         int
	}{
		{1, 1, 1440},
		{3, 5, 300},
		{5, 30, 30},
	}
	for _, tt := range tests {
		got := zaiLimit{Unit: tt.unit, Number: tt.number}.windowMinutes()
		if got == nil || *got != tt.want {
			t.Errorf("unit %d number %d: got %v want %d", tt.unit, tt.number, got, tt.want)
		}
	}
	if (zaiLimit{Unit: 9, Number: 1}).windowMinutes() != nil {
		t.Error("unknown unit should have no window")
	}
	if (zaiLimit{Unit: 1}).windowMinutes() != nil {
		t.Error("zero number should have no window")
	}
}
