package stack

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateHostPortConflict(t *testing.T) {
	yml := `
services:
  web:
    image: demo
    ports:
      - "8080:80"
  admin:
    image: demo
    ports:
      - "8080:9000"
`
	_, err := Parse(strings.NewReader(yml))
	if err == nil {
		t.Fatal("expected port conflict error")
	}
	var conflict *PortConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *PortConflictError, got %T: %v", err, err)
	}
	if conflict.Port != 8080 {
		t.Errorf("expected conflicting port 8080, got %d", conflict.Port)
	}
}

func TestValidateWildcardIPConflictsWithBareForm(t *testing.T) {
	yml := `
services:
  web:
    image: demo
    ports:
      - "8080:80"
  admin:
    image: demo
    ports:
      - "0.0.0.0:8080:9000"
`
	_, err := Parse(strings.NewReader(yml))
	if err == nil {
		t.Fatal("bare and 0.0.0.0 forms bind the same port, expected conflict")
	}
	var conflict *PortConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *PortConflictError, got %T: %v", err, err)
	}
	if conflict.Port != 8080 {
		t.Errorf("expected conflicting port 8080, got %d", conflict.Port)
	}
}

func TestValidateSamePortDifferentProtocols(t *testing.T) {
	yml := `
services:
  dns:
    image: demo
    ports:
      - "5353:53/udp"
  dns-tcp:
    image: demo
    ports:
      - "5353:53"
`
	if _, err := Parse(strings.NewReader(yml)); err != nil {
		t.Fatalf("tcp and udp on the same host port should not conflict: %v", err)
	}
}

func TestValidateRejectsSelfDependency(t *testing.T) {
	yml := `
services:
  app:
    image: demo
    depends_on:
      app:
        condition: service_started
`
	if _, err := Parse(strings.NewReader(yml)); err == nil {
		t.Fatal("expected error for self dependency")
	}
}

func TestValidateRejectsUnknownNetworkDriver(t *testing.T) {
	yml := `
services:
  app:
    image: demo
    networks:
      - backend

networks:
  backend:
    driver: overlay
`
	if _, err := Parse(strings.NewReader(yml)); err == nil {
		t.Fatal("expected error for unsupported network driver")
	}
}

func TestValidateRejectsUnknownNetworkReference(t *testing.T) {
	yml := `
services:
  app:
    image: demo
    networks:
      - ghost
`
	if _, err := Parse(strings.NewReader(yml)); err == nil {
		t.Fatal("expected error for unknown network reference")
	}
}
