package main

import (
	"strings"
	"testing"

	"github.com/mostlydev/berth/internal/stack"
)

func TestRestartPolicyServices(t *testing.T) {
	st, err := stack.Parse(strings.NewReader(`
name: app
services:
  api:
    image: app/api:1
    restart: unless-stopped
  worker:
    image: app/worker:1
    restart: on-failure
  oneshot:
    image: app/oneshot:1
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	got := restartPolicyServices(st)
	want := []string{"api", "worker"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestAnyMissingImage(t *testing.T) {
	st, err := stack.Parse(strings.NewReader(`
name: app
services:
  api:
    build: ./api
  db:
    image: postgres:16
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !anyMissingImage(st) {
		t.Error("api has a build section and no image, expected true")
	}

	st.Services["api"].Image = "berth_app_api:latest"
	if anyMissingImage(st) {
		t.Error("all images resolved, expected false")
	}
}
