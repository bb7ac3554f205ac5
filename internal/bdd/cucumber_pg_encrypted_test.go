package bdd

import (
	"testing"

	"github.com/chirino/assistant-state/internal/testutil/testpg"
)

func TestFeaturesPgEncrypted(t *testing.T) {
	dbURL := testpg.StartPostgres(t)
	vendor := NewMockVendor(t)

	cfg := testConfig(vendor)
	cfg.SlotType = "postgres"
	cfg.SlotURL = dbURL
	cfg.SlotMigrateAtStart = true
	cfg.EncryptionKind = "dek"
	cfg.EncryptionKey = testEncryptionKey
	runFeatures(t, &cfg, vendor, "")
}
