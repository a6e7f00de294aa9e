package database

import (
	"strings"
	"testing"
)

func TestGraphSchema_Idempotent(t *testing.T) {
	for _, stmt := range graphSchema {
		if !strings.Contains(stmt, "IF NOT EXISTS") {
			t.Errorf("statement should be idempotent: %s", stmt)
		}
	}
}

func TestGraphSchema_IdentityKeyUnique(t *testing.T) {
	found := false
	for _, stmt := range graphSchema {
		if strings.Contains(stmt, "(p:Identity)") && strings.Contains(stmt, "p.key IS UNIQUE") {
			found = true
		}
	}
	if !found {
		t.Error("graph schema should declare a unique constraint on Identity.key")
	}
}
