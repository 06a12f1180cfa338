package build

import "testing"

func TestAssignPorts_WithDefault(t *testing.T) {
	blocks := AssignPorts([]string{"", "events", "worker"}, 3000)

	wantPorts := []int{3000, 3001, 3002}
	wantEnv := []string{"TOVA_PORT", "TOVA_EVENTS_PORT", "TOVA_WORKER_PORT"}
	for i, b := range blocks {
		if b.Port != wantPorts[i] {
			t.Errorf("block %d port = %d, want %d", i, b.Port, wantPorts[i])
		}
		if b.EnvVar != wantEnv[i] {
			t.Errorf("block %d env = %s, want %s", i, b.EnvVar, wantEnv[i])
		}
	}
}

func TestAssignPorts_NoDefault(t *testing.T) {
	blocks := AssignPorts([]string{"events", "worker"}, 3000)

	if blocks[0].Port != 3000 || blocks[1].Port != 3001 {
		t.Errorf("ports = [%d, %d], want [3000, 3001]", blocks[0].Port, blocks[1].Port)
	}
}

func TestAssignPorts_DefaultDeclaredLast(t *testing.T) {
	// The unnamed block always binds the base port regardless of where
	// it appears; named blocks count up in declaration order.
	blocks := AssignPorts([]string{"events", ""}, 3000)

	if blocks[0].Port != 3001 {
		t.Errorf("named block port = %d, want 3001", blocks[0].Port)
	}
	if blocks[1].Port != 3000 {
		t.Errorf("default block port = %d, want 3000", blocks[1].Port)
	}
}

func TestNamedBlock_Label(t *testing.T) {
	if got := (NamedBlock{Name: ""}).Label(); got != "default" {
		t.Errorf("Label() = %q", got)
	}
	if got := (NamedBlock{Name: "events"}).Label(); got != "events" {
		t.Errorf("Label() = %q", got)
	}
}
