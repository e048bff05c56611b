package engine

import (
	"errors"
	"testing"

	"github.com/mostlydev/berth/internal/stack"
)

func TestPortMaps(t *testing.T) {
	svc := &stack.Service{
		Name: "web",
		Ports: []stack.Port{
			{HostIP: "127.0.0.1", HostPort: 8080, ContainerPort: 80, Protocol: "tcp"},
			{ContainerPort: 9090, Protocol: "udp"},
		},
		Expose: []string{"6060", "7070/udp"},
	}

	exposed, bindings, err := portMaps(svc)
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"80/tcp", "9090/udp", "6060/tcp", "7070/udp"} {
		found := false
		for port := range exposed {
			if string(port) == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("port %s not exposed, got %v", want, exposed)
		}
	}

	if len(bindings) != 1 {
		t.Fatalf("bindings = %v, want exactly the fixed port", bindings)
	}
	for port, binds := range bindings {
		if string(port) != "80/tcp" {
			t.Errorf("bound port = %s, want 80/tcp", port)
		}
		if len(binds) != 1 || binds[0].HostPort != "8080" || binds[0].HostIP != "127.0.0.1" {
			t.Errorf("binding = %+v", binds)
		}
	}
}

func TestPortMapsEmpty(t *testing.T) {
	exposed, bindings, err := portMaps(&stack.Service{Name: "job"})
	if err != nil {
		t.Fatal(err)
	}
	if exposed != nil || bindings != nil {
		t.Errorf("expected nil maps for a service without ports, got %v / %v", exposed, bindings)
	}
}

func TestEnvListSorted(t *testing.T) {
	got := envList(map[string]string{"B": "2", "A": "1", "C": "3"})
	want := []string{"A=1", "B=2", "C=3"}
	if len(got) != len(want) {
		t.Fatalf("env = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("env[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIsPortConflict(t *testing.T) {
	if !IsPortConflict(errors.New("driver failed programming external connectivity: Bind for 0.0.0.0:8080 failed: port is already allocated")) {
		t.Error("allocated-port error not recognized")
	}
	if IsPortConflict(errors.New("no such image")) {
		t.Error("unrelated error misclassified")
	}
	if IsPortConflict(nil) {
		t.Error("nil error misclassified")
	}
}
