package vidasana_test

import (
	"os"
	"strings"
	"testing"
)

func TestDockerfileExists(t *testing.T) {
	_, err := os.Stat("Dockerfile")
	if err != nil {
		t.Fatalf("Dockerfile should exist: %v", err)
	}
}

func TestDockerfileMultiStageBuild(t *testing.T) {
	data, err := os.ReadFile("Dockerfile")
	if err != nil {
		t.Fatalf("failed to read Dockerfile: %v", err)
	}
	content := string(data)

	// マルチステージビルドの確認: ビルドステージと実行ステージが存在すること
	if !strings.Contains(content, "FROM golang:") {
		t.Error("Dockerfile should contain a Go builder stage (FROM golang:)")
	}

	// 最終ステージは軽量イメージであること
	lines := strings.Split(content, "\n")
	var lastFrom string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "FROM ") {
			lastFrom = trimmed
		}
	}
	if !strings.Contains(lastFrom, "gcr.io/distroless") && !strings.Contains(lastFrom, "alpine") && !strings.Contains(lastFrom, "scratch") {
		t.Errorf("final stage should use a minimal base image (distroless/alpine/scratch), got: %s", lastFrom)
	}
}

func TestDockerfileBinaryName(t *testing.T) {
	data, err := os.ReadFile("Dockerfile")
	if err != nil {
		t.Fatalf("failed to read Dockerfile: %v", err)
	}
	content := string(data)

	// バイナリ名がvidasanaであること
	if !strings.Contains(content, "-o /out/vidasana ./cmd/vidasana") {
		t.Error("Dockerfile should build a binary named 'vidasana' from ./cmd/vidasana")
	}
}

func TestDockerfileEntrypoint(t *testing.T) {
	data, err := os.ReadFile("Dockerfile")
	if err != nil {
		t.Fatalf("failed to read Dockerfile: %v", err)
	}
	content := string(data)

	// ENTRYPOINTでvidasanaバイナリを起動すること
	if !strings.Contains(content, `ENTRYPOINT ["/usr/local/bin/vidasana"]`) {
		t.Error("Dockerfile should start the vidasana binary via ENTRYPOINT")
	}
}

func TestDockerComposeExists(t *testing.T) {
	_, err := os.Stat("docker-compose.yml")
	if err != nil {
		t.Fatalf("docker-compose.yml should exist: %v", err)
	}
}

func TestDockerComposeServices(t *testing.T) {
	content := readCompose(t)

	// アプリ3コンテナ + ストア3コンテナ構成
	requiredServices := []string{"api:", "worker:", "migrate:", "mongo:", "redis:", "neo4j:"}
	for _, svc := range requiredServices {
		if !strings.Contains(content, svc) {
			t.Errorf("docker-compose.yml should contain service %q", svc)
		}
	}
}

func TestDockerComposeStoreImages(t *testing.T) {
	content := readCompose(t)

	for _, image := range []string{"image: mongo:", "image: redis:", "image: neo4j:"} {
		if !strings.Contains(content, image) {
			t.Errorf("docker-compose.yml should use %q", image)
		}
	}
}

func TestDockerComposeSubcommands(t *testing.T) {
	content := readCompose(t)

	// 各アプリサービスが対応するサブコマンドで起動すること
	for _, cmd := range []string{`command: ["serve"]`, `command: ["worker"]`, `command: ["migrate"]`} {
		if !strings.Contains(content, cmd) {
			t.Errorf("docker-compose.yml should contain %s", cmd)
		}
	}
}

func TestDockerComposeHealthcheckUsesSubcommand(t *testing.T) {
	content := readCompose(t)

	// distrolessにはcurlがないため、healthcheckサブコマンドを使うこと
	if !strings.Contains(content, `"/usr/local/bin/vidasana", "healthcheck"`) {
		t.Error("api healthcheck should use the healthcheck subcommand")
	}
}

func TestDockerComposeNetworks(t *testing.T) {
	content := readCompose(t)

	// ネットワーク設定が存在すること（egress制限用）
	if !strings.Contains(content, "networks:") {
		t.Error("docker-compose.yml should define networks for egress control")
	}

	// 内部ネットワークの定義（internal: true）
	if !strings.Contains(content, "internal: true") {
		t.Error("docker-compose.yml should define an internal network (internal: true) for egress restriction")
	}

	// 通知Webhook用の外部ネットワークの定義
	if !strings.Contains(content, "external:") {
		t.Error("docker-compose.yml should define an external network for webhook egress")
	}
}

func readCompose(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("docker-compose.yml")
	if err != nil {
		t.Fatalf("failed to read docker-compose.yml: %v", err)
	}
	return string(data)
}
