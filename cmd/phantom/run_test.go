package main

import "testing"

func TestBuildBackendRejectsUnknownBackend(t *testing.T) {
	_, err := buildBackend(&runOptions{backend: "carrier-pigeon"})
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestBuildBackendRequiresAgentLibForLdpreload(t *testing.T) {
	_, err := buildBackend(&runOptions{backend: "ldpreload", command: []string{"/bin/true"}})
	if err == nil {
		t.Fatal("expected error when --agent-lib is missing")
	}
}

func TestBuildBackendRequiresCommandForLdpreload(t *testing.T) {
	_, err := buildBackend(&runOptions{backend: "ldpreload", agentLib: "/tmp/agent.so"})
	if err == nil {
		t.Fatal("expected error when target command is missing")
	}
}
