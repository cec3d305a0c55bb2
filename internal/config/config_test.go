package config

import "testing"

func TestValidateRequiresCoreFields(t *testing.T) {
	c := Default()
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for missing local_root/server_url/root_folder_id")
	}
}

func TestValidateFillsDefaults(t *testing.T) {
	c := Default()
	c.LocalRoot = t.TempDir()
	c.ServerURL = "https://example.org/cmis"
	c.RootFolderID = "root-folder"
	c.MaxChangesPerPage = 0

	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.MaxChangesPerPage != DefaultMaxChangesPerPage {
		t.Fatalf("want default max changes per page, got %d", c.MaxChangesPerPage)
	}
	if c.DBPath == "" || c.LogDir == "" {
		t.Fatal("DBPath and LogDir must be derived from LocalRoot when unset")
	}
}

func TestValidateRejectsUnknownDropFirstEventPolicy(t *testing.T) {
	c := Default()
	c.LocalRoot = t.TempDir()
	c.ServerURL = "https://example.org/cmis"
	c.RootFolderID = "root-folder"
	c.DropFirstEventPerBatch = "sometimes"

	if err := c.Validate(); err == nil {
		t.Fatal("expected error for unknown drop_first_event_per_batch policy")
	}
}
