package feed

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSeed(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfigCacheLoadValidConfig(t *testing.T) {
	tempDir := t.TempDir()

	writeSeed(t, tempDir, "test.yml", `
url: "https://example.com/feed.xml"
category: "  Technology "
title: "Example Feed"
`)

	configCache := NewConfigCache(tempDir)
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	if configCache.GetConfigCount() != 1 {
		t.Errorf("Expected 1 feedConfig, got %d", configCache.GetConfigCount())
	}

	feedConfig, err := configCache.GetConfig("test")
	if err != nil {
		t.Fatal(err)
	}

	if feedConfig.Name != "test" {
		t.Errorf("Expected name 'test', got '%s'", feedConfig.Name)
	}
	if feedConfig.URL != "https://example.com/feed.xml" {
		t.Errorf("Expected URL 'https://example.com/feed.xml', got '%s'", feedConfig.URL)
	}
	if feedConfig.Category != "Technology" {
		t.Errorf("Expected category 'Technology', got '%s'", feedConfig.Category)
	}
	if feedConfig.Title != "Example Feed" {
		t.Errorf("Expected title 'Example Feed', got '%s'", feedConfig.Title)
	}
}

func TestConfigCacheMinimalConfig(t *testing.T) {
	tempDir := t.TempDir()
	writeSeed(t, tempDir, "minimal.yml", `url: "https://example.com/feed.xml"`)

	configCache := NewConfigCache(tempDir)
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	feedConfig, err := configCache.GetConfig("minimal")
	if err != nil {
		t.Fatal(err)
	}
	if feedConfig.Category != "" || feedConfig.Title != "" {
		t.Errorf("Expected empty category and title, got '%s' and '%s'", feedConfig.Category, feedConfig.Title)
	}
}

func TestConfigCacheInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing url", `category: "News"`},
		{"relative url", `url: "/feed.xml"`},
		{"non http scheme", `url: "ftp://example.com/feed.xml"`},
		{"invalid yaml", `invalid yaml content`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tempDir := t.TempDir()
			writeSeed(t, tempDir, "invalid.yml", tt.content)

			if err := NewConfigCache(tempDir).Run(); err == nil {
				t.Error("Expected error for invalid feedConfig")
			}
		})
	}
}

func TestConfigCacheEmptyDirectory(t *testing.T) {
	configCache := NewConfigCache(t.TempDir())
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	if configCache.GetConfigCount() != 0 {
		t.Errorf("Expected 0 feedConfigs from empty directory, got %d", configCache.GetConfigCount())
	}
}

func TestConfigCacheMissingDirectory(t *testing.T) {
	configCache := NewConfigCache(filepath.Join(t.TempDir(), "absent"))
	if err := configCache.Run(); err != nil {
		t.Errorf("Expected no error for missing directory, got: %v", err)
	}
}

func TestConfigCacheReloadConfig(t *testing.T) {
	tempDir := t.TempDir()
	configFile := writeSeed(t, tempDir, "test.yml", `url: "https://example.com/feed.xml"`)

	configCache := NewConfigCache(tempDir)
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(configFile, []byte(`
url: "https://example.com/new-feed.xml"
category: "News"
`), 0644); err != nil {
		t.Fatal(err)
	}

	reloadedConfig, err := configCache.LoadConfig("test")
	if err != nil {
		t.Fatal(err)
	}
	if reloadedConfig.URL != "https://example.com/new-feed.xml" {
		t.Errorf("Expected updated URL 'https://example.com/new-feed.xml', got '%s'", reloadedConfig.URL)
	}

	cached, err := configCache.GetConfig("test")
	if err != nil {
		t.Fatal(err)
	}
	if cached.Category != "News" {
		t.Errorf("Expected cached category 'News', got '%s'", cached.Category)
	}

	if _, err := configCache.LoadConfig("nonexistent"); err == nil {
		t.Error("Expected error for non-existent config")
	}
}

func TestConfigCacheGetConfigs(t *testing.T) {
	tempDir := t.TempDir()
	writeSeed(t, tempDir, "feed2.yml", `url: "https://example.com/feed2.xml"`)
	writeSeed(t, tempDir, "feed1.yml", `url: "https://example.com/feed1.xml"`)
	writeSeed(t, tempDir, "notes.txt", `not a seed`)

	configCache := NewConfigCache(tempDir)
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	allConfigs := configCache.GetConfigs()
	if len(allConfigs) != 2 {
		t.Errorf("Expected 2 configs, got %d", len(allConfigs))
	}

	delete(allConfigs, "feed1")
	if configCache.GetConfigCount() != 2 {
		t.Error("Modifying returned configs map affected the cache")
	}

	names := configCache.GetConfigNames()
	if len(names) != 2 || names[0] != "feed1" || names[1] != "feed2" {
		t.Errorf("Expected sorted names [feed1 feed2], got %v", names)
	}
}

func TestConfigCacheValidateConfigNil(t *testing.T) {
	configCache := NewConfigCache("")
	if err := configCache.validateConfig(nil); err == nil {
		t.Error("Expected error for nil feedConfig, got none")
	}
}

func TestConfigCacheValidateConfigRequiredFields(t *testing.T) {
	configCache := NewConfigCache("")

	feedConfig := &Config{
		Name: "",
		URL:  "https://example.com/feed.xml",
	}
	if err := configCache.validateConfig(feedConfig); err == nil {
		t.Error("Expected error for empty feed name, got none")
	}

	feedConfig.Name = "test-feed"
	feedConfig.URL = ""
	if err := configCache.validateConfig(feedConfig); err == nil {
		t.Error("Expected error for empty URL, got none")
	}

	feedConfig.URL = "https://example.com/feed.xml"
	if err := configCache.validateConfig(feedConfig); err != nil {
		t.Errorf("Expected no error for valid feedConfig, got: %v", err)
	}
}
