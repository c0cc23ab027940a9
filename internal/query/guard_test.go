package query

import "testing"

func TestIsSuspiciousBlocksInjectionShapes(t *testing.T) {
	for _, statement := range []string{
		"DROP TABLE users",
		"drop   table users",
		"DROP DATABASE analytics",
		"DELETE FROM accounts WHERE 1=1",
		"delete from accounts where 1 = 1",
		"DELETE FROM accounts WHERE '1'='1'",
		"DELETE FROM accounts WHERE 1=1;",
		"SELECT * FROM x UNION SELECT * FROM y",
		"SELECT id FROM x\nUNION ALL\nSELECT id FROM y",
	} {
		if !IsSuspicious(statement) {
			t.Fatalf("IsSuspicious(%q) = false", statement)
		}
	}
}

func TestIsSuspiciousAllowsOrdinaryStatements(t *testing.T) {
	for _, statement := range []string{
		"SELECT * FROM PODS",
		"SELECT 1",
		"get nodes",
		"SELECT * FROM orders WHERE id = 1",
		"DELETE FROM sessions WHERE expires_at < CURRENT_TIMESTAMP",
		"DELETE FROM t WHERE 1=10",
		"delete from t where 1 = 12 and tenant = 'a'",
		"SELECT dropped_at FROM table_history",
	} {
		if IsSuspicious(statement) {
			t.Fatalf("IsSuspicious(%q) = true", statement)
		}
	}
}
