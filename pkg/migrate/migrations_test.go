package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/rewardledger/pkg/migrate"
)

func TestMigrationDirValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestTransactionsMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_payment_transactions.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS payment_transactions",
		"FOREIGN KEY (account_id) REFERENCES accounts(id)",
		"CHECK (result IN ('unknown', 'paid', 'fulfilled', 'declined', 'refused'))",
		"CREATE INDEX IF NOT EXISTS idx_payment_transactions_pledge",
		"DROP TABLE IF EXISTS payment_transactions",
	}
	assertContains(t, content, checks)
}

func TestPatreonMigrationContainsSchemas(t *testing.T) {
	content := readMigration(t, "*_create_patreon_tables.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS patreon_users",
		"CREATE TABLE IF NOT EXISTS patreon_members",
		"PRIMARY KEY (patron_id, campaign_id)",
		"CHECK (rewarded_cents >= 0)",
		"CREATE TABLE IF NOT EXISTS legacy_patreon_claims",
	}
	assertContains(t, content, checks)
}

func TestSubscriptionsMigrationContainsStatuses(t *testing.T) {
	content := readMigration(t, "*_create_payment_subscriptions.sql")
	assertContains(t, content, []string{
		"CHECK (status IN ('approval_pending', 'user_declined', 'active', 'suspended', 'cancelled', 'expired'))",
		"CHECK (recurring_interval_days > 0)",
	})
}

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration file found for %s", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}
