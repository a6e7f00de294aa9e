package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewOutboundGuard(t *testing.T) {
	if NewOutboundGuard() == nil {
		t.Fatal("NewOutboundGuard() returned nil")
	}
}

// TestNewSafeClientTimeout はタイムアウト設定が反映されることをテストする。
func TestNewSafeClientTimeout(t *testing.T) {
	client := NewOutboundGuard().NewSafeClient(5 * time.Second)
	if client == nil {
		t.Fatal("NewSafeClient() returned nil")
	}
	if client.Timeout != 5*time.Second {
		t.Errorf("expected timeout %v, got %v", 5*time.Second, client.Timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Error("expected custom Transport")
	}
}

// httptestサーバーは127.0.0.1で起動されるため、safeurlがブロックする。
func TestNewSafeClientBlocksLoopback(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewOutboundGuard().NewSafeClient(5 * time.Second)
	if _, err := client.Get(ts.URL); err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}

func TestValidateURL(t *testing.T) {
	guard := NewOutboundGuard()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"公開HTTPS", "https://hooks.example.com/notify", false},
		{"許可ポート8443", "https://hooks.example.com:8443/notify", false},
		{"公開IP", "https://93.184.216.34/notify", false},
		{"空URL", "", true},
		{"httpは拒否", "http://hooks.example.com/notify", true},
		{"ftpは拒否", "ftp://hooks.example.com/notify", true},
		{"ホストなし", "https:///notify", true},
		{"不許可ポート", "https://hooks.example.com:8080/notify", true},
		{"プライベートIP 10.x", "https://10.0.0.5/notify", true},
		{"プライベートIP 192.168.x", "https://192.168.1.1/notify", true},
		{"ループバック", "https://127.0.0.1/notify", true},
		{"メタデータIP", "https://169.254.169.254/latest", true},
		{"CGNAT", "https://100.64.0.1/notify", true},
		{"IPv6ループバック", "https://[::1]/notify", true},
		{"localhost", "https://localhost/notify", true},
		{"サブドメインlocalhost", "https://api.localhost/notify", true},
		{"internalドメイン", "https://metadata.google.internal/notify", true},
		{"パース不能", "https://%zz", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}
