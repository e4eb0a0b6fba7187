package storage

import (
	"context"
	"path/filepath"
	"testing"

	"rbt/internal/models"
)

func TestFactory(t *testing.T) {
	factory := NewFactory()

	t.Run("GetSupportedProviders", func(t *testing.T) {
		providers := factory.GetSupportedProviders()
		expected := []string{"memory", "postgres", "sqlite"}

		if len(providers) != len(expected) {
			t.Errorf("Expected %d providers, got %d", len(expected), len(providers))
		}
		for i, provider := range expected {
			if i >= len(providers) || providers[i] != provider {
				t.Errorf("Expected provider %s at index %d, got %v", provider, i, providers)
			}
		}
	})

	t.Run("ValidateConfig", func(t *testing.T) {
		tests := []struct {
			name      string
			config    models.StorageConfig
			expectErr bool
		}{
			{"valid memory config", models.StorageConfig{Type: "memory"}, false},
			{"valid sqlite config", models.StorageConfig{Type: "sqlite", Database: models.DatabaseConfig{DSN: "rbt.db"}}, false},
			{"postgres without DSN", models.StorageConfig{Type: "postgres"}, true},
			{"sqlite without DSN", models.StorageConfig{Type: "sqlite"}, true},
			{"invalid storage type", models.StorageConfig{Type: "json"}, true},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := factory.ValidateConfig(tt.config)
				if tt.expectErr && err == nil {
					t.Error("Expected error but got none")
				}
				if !tt.expectErr && err != nil {
					t.Errorf("Expected no error but got: %v", err)
				}
			})
		}
	})

	t.Run("CreateMemory", func(t *testing.T) {
		s, err := factory.Create(context.Background(), models.StorageConfig{Type: "memory"})
		if err != nil {
			t.Fatalf("Failed to create memory storage: %v", err)
		}
		defer s.Close()
		if _, ok := s.(*MemoryStorage); !ok {
			t.Errorf("Expected *MemoryStorage, got %T", s)
		}
	})

	t.Run("CreateSQLite", func(t *testing.T) {
		s, err := factory.Create(context.Background(), models.StorageConfig{
			Type:     "sqlite",
			Database: models.DatabaseConfig{DSN: filepath.Join(t.TempDir(), "rbt.db")},
			Migrate:  true,
		})
		if err != nil {
			t.Fatalf("Failed to create SQLite storage: %v", err)
		}
		defer s.Close()
		if err := s.Ping(context.Background()); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("CreateUnsupported", func(t *testing.T) {
		if _, err := factory.Create(context.Background(), models.StorageConfig{Type: "json"}); err == nil {
			t.Error("Expected error for unsupported storage type")
		}
	})
}
