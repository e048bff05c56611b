package stack

import (
	"strings"
	"testing"
	"time"
)

const testStackYAML = `
name: lab

services:
  web:
    build:
      context: ./web
      dockerfile: Dockerfile
    ports:
      - "8080:5000"
    environment:
      APP_ENV: production
    depends_on:
      postgres:
        condition: service_healthy
      redis:
        condition: service_started
    restart: on-failure

  postgres:
    image: postgres:15
    environment:
      - POSTGRES_DB=mydb
      - POSTGRES_PASSWORD=secret123
    volumes:
      - pgdata:/var/lib/postgresql/data
    healthcheck:
      test: ["CMD-SHELL", "pg_isready -U admin"]
      interval: 5s
      timeout: 3s
      retries: 5
      start_period: 10s
    restart: always

  redis:
    image: redis:7-alpine
    expose:
      - 6379

volumes:
  pgdata:
`

func TestParseExtractsStackName(t *testing.T) {
	st, err := Parse(strings.NewReader(testStackYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Name != "lab" {
		t.Errorf("expected stack name %q, got %q", "lab", st.Name)
	}
}

func TestParseExtractsServices(t *testing.T) {
	st, err := Parse(strings.NewReader(testStackYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(st.Services) != 3 {
		t.Fatalf("expected 3 services, got %d", len(st.Services))
	}
	for _, name := range []string{"web", "postgres", "redis"} {
		if st.Services[name] == nil {
			t.Errorf("missing service %q", name)
		}
	}
}

func TestParseDependsOnConditions(t *testing.T) {
	st, err := Parse(strings.NewReader(testStackYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	web := st.Services["web"]
	if web.DependsOn["postgres"] != ConditionHealthy {
		t.Errorf("expected postgres condition service_healthy, got %q", web.DependsOn["postgres"])
	}
	if web.DependsOn["redis"] != ConditionStarted {
		t.Errorf("expected redis condition service_started, got %q", web.DependsOn["redis"])
	}
}

func TestParseDependsOnListShorthand(t *testing.T) {
	yml := `
services:
  app:
    image: demo
    depends_on:
      - db
  db:
    image: postgres:15
`
	st, err := Parse(strings.NewReader(yml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Services["app"].DependsOn["db"] != ConditionStarted {
		t.Errorf("list shorthand should default to service_started, got %q", st.Services["app"].DependsOn["db"])
	}
}

func TestParseHealthCheck(t *testing.T) {
	st, err := Parse(strings.NewReader(testStackYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hc := st.Services["postgres"].HealthCheck
	if hc == nil {
		t.Fatal("expected healthcheck on postgres")
	}
	if len(hc.Test) != 3 || hc.Test[0] != "/bin/sh" {
		t.Errorf("CMD-SHELL should expand to sh -c form, got %v", hc.Test)
	}
	if hc.Interval != 5*time.Second {
		t.Errorf("expected interval 5s, got %v", hc.Interval)
	}
	if hc.Retries != 5 {
		t.Errorf("expected 5 retries, got %d", hc.Retries)
	}
	if hc.StartPeriod != 10*time.Second {
		t.Errorf("expected start period 10s, got %v", hc.StartPeriod)
	}
}

func TestParseHealthCheckDefaults(t *testing.T) {
	yml := `
services:
  db:
    image: postgres:15
    healthcheck:
      test: ["CMD", "pg_isready"]
`
	st, err := Parse(strings.NewReader(yml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hc := st.Services["db"].HealthCheck
	if hc.Interval != DefaultHealthInterval || hc.Timeout != DefaultHealthTimeout || hc.Retries != DefaultHealthRetries {
		t.Errorf("expected defaults, got %+v", hc)
	}
	if hc.StartPeriod != 0 {
		t.Errorf("expected zero start period, got %v", hc.StartPeriod)
	}
}

func TestParseHealthCheckNone(t *testing.T) {
	yml := `
services:
  app:
    image: demo
    healthcheck:
      test: ["NONE"]
`
	st, err := Parse(strings.NewReader(yml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hc := st.Services["app"].HealthCheck
	if hc == nil {
		t.Fatal("NONE should keep an explicit disabled healthcheck")
	}
	if len(hc.Test) != 0 {
		t.Errorf("NONE should leave no test command, got %v", hc.Test)
	}
}

func TestParsePortForms(t *testing.T) {
	yml := `
services:
  app:
    image: demo
    ports:
      - "8080:80"
      - "127.0.0.1:9090:90"
      - "7070/udp"
      - 6060
`
	st, err := Parse(strings.NewReader(yml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ports := st.Services["app"].Ports
	if len(ports) != 4 {
		t.Fatalf("expected 4 ports, got %d", len(ports))
	}
	if ports[0].HostPort != 8080 || ports[0].ContainerPort != 80 {
		t.Errorf("unexpected first port: %+v", ports[0])
	}
	if ports[1].HostIP != "127.0.0.1" || ports[1].HostPort != 9090 {
		t.Errorf("unexpected second port: %+v", ports[1])
	}
	if ports[2].Protocol != "udp" || ports[2].HostPort != 0 {
		t.Errorf("unexpected third port: %+v", ports[2])
	}
	if ports[3].ContainerPort != 6060 || ports[3].HostPort != 0 {
		t.Errorf("unexpected fourth port: %+v", ports[3])
	}
}

func TestParseMountForms(t *testing.T) {
	yml := `
services:
  app:
    image: demo
    volumes:
      - data:/var/lib/data
      - ./src:/app:ro

volumes:
  data:
`
	st, err := Parse(strings.NewReader(yml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mounts := st.Services["app"].Mounts
	if len(mounts) != 2 {
		t.Fatalf("expected 2 mounts, got %d", len(mounts))
	}
	if mounts[0].Bind {
		t.Error("named volume mount flagged as bind")
	}
	if !mounts[1].Bind || !mounts[1].ReadOnly {
		t.Errorf("expected read-only bind mount, got %+v", mounts[1])
	}
}

func TestParseEnvironmentListForm(t *testing.T) {
	st, err := Parse(strings.NewReader(testStackYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	env := st.Services["postgres"].Environment
	if env["POSTGRES_DB"] != "mydb" {
		t.Errorf("expected POSTGRES_DB=mydb, got %q", env["POSTGRES_DB"])
	}
}

func TestParseDefaultNetwork(t *testing.T) {
	st, err := Parse(strings.NewReader(testStackYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Networks[DefaultNetwork] == nil {
		t.Fatal("expected implicit default network")
	}
	if got := st.Services["web"].Networks; len(got) != 1 || got[0] != DefaultNetwork {
		t.Errorf("expected web on default network, got %v", got)
	}
}

func TestParseRejectsUnknownRestartPolicy(t *testing.T) {
	yml := `
services:
  app:
    image: demo
    restart: sometimes
`
	if _, err := Parse(strings.NewReader(yml)); err == nil {
		t.Fatal("expected error for unknown restart policy")
	}
}

func TestParseRejectsUnknownDependency(t *testing.T) {
	yml := `
services:
  app:
    image: demo
    depends_on:
      - ghost
`
	_, err := Parse(strings.NewReader(yml))
	if err == nil {
		t.Fatal("expected error for unknown dependency")
	}
	if !strings.Contains(err.Error(), "ghost") {
		t.Errorf("error should name the missing service: %v", err)
	}
}

func TestParseRejectsUnknownCondition(t *testing.T) {
	yml := `
services:
  app:
    image: demo
    depends_on:
      db:
        condition: service_fast
  db:
    image: postgres:15
`
	if _, err := Parse(strings.NewReader(yml)); err == nil {
		t.Fatal("expected error for unknown condition")
	}
}

func TestParseRejectsMissingImageAndBuild(t *testing.T) {
	yml := `
services:
  app:
    environment:
      FOO: bar
`
	if _, err := Parse(strings.NewReader(yml)); err == nil {
		t.Fatal("expected error for service with neither image nor build")
	}
}

func TestParseRejectsUndeclaredVolume(t *testing.T) {
	yml := `
services:
  app:
    image: demo
    volumes:
      - orphan:/data
`
	if _, err := Parse(strings.NewReader(yml)); err == nil {
		t.Fatal("expected error for undeclared named volume")
	}
}
