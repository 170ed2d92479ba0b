package database

import (
	"context"
	"strings"
	"testing"
)

func TestParseSQLStatements(t *testing.T) {
	content := `-- Accounts
CREATE TABLE IF NOT EXISTS a (
    id INT PRIMARY KEY
);

-- comment only

CREATE INDEX IF NOT EXISTS idx_a ON a (id);
ALTER TABLE a ADD COLUMN IF NOT EXISTS note TEXT`

	statements := parseSQLStatements(content)
	if len(statements) != 3 {
		t.Fatalf("statements = %q", statements)
	}
	if statements[0] != "CREATE TABLE IF NOT EXISTS a ( id INT PRIMARY KEY )" {
		t.Errorf("first statement = %q", statements[0])
	}
	if strings.HasSuffix(statements[1], ";") {
		t.Errorf("terminator kept: %q", statements[1])
	}
	if statements[2] != "ALTER TABLE a ADD COLUMN IF NOT EXISTS note TEXT" {
		t.Errorf("trailing statement = %q", statements[2])
	}
}

func TestEmbeddedSchemaCoversRequiredTables(t *testing.T) {
	statements := parseSQLStatements(schemaSQL)
	for _, table := range RequiredTables {
		found := false
		for _, statement := range statements {
			if strings.Contains(statement, "CREATE TABLE IF NOT EXISTS "+table+" ") {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("schema does not create %s", table)
		}
	}
}

func TestEmbeddedSchemaUpgradesSavedLeads(t *testing.T) {
	statements := parseSQLStatements(schemaSQL)
	for _, column := range []string{"is_help_seeking", "help_seeking_signals", "potential_value", "ai_response_generated"} {
		found := false
		for _, statement := range statements {
			if strings.HasPrefix(statement, "ALTER TABLE saved_leads ADD COLUMN IF NOT EXISTS "+column+" ") {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("schema does not add %s to existing saved_leads tables", column)
		}
	}
}

func TestHealthCheckWithoutConnection(t *testing.T) {
	if err := HealthCheck(context.Background(), nil); err == nil {
		t.Error("expected an error for a missing connection")
	}
}
