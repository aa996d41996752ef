package database

import (
	"bytes"
	"strings"
	"testing"

	"roomchat/pkg/logging"
)

func TestQueryErrorsGoThroughLogger(t *testing.T) {
	db := OpenTest(t)
	var buf bytes.Buffer
	logging.Init(logging.Config{Level: "debug", Format: "json", Output: &buf})
	defer logging.Init(logging.Config{})

	if err := db.Exec("SELECT * FROM no_such_table").Error; err == nil {
		t.Fatalf("expected query against a missing table to fail")
	}

	out := buf.String()
	if !strings.Contains(out, `"message":"[db] query failed"`) {
		t.Fatalf("expected structured query failure, got %s", out)
	}
	if !strings.Contains(out, "no_such_table") {
		t.Fatalf("expected the failing sql in the log line, got %s", out)
	}
}

func TestRecordNotFoundIsQuiet(t *testing.T) {
	db := OpenTest(t)
	var buf bytes.Buffer
	logging.Init(logging.Config{Level: "warn", Format: "json", Output: &buf})
	defer logging.Init(logging.Config{})

	var row struct{ ID string }
	_ = db.Table("users").Where("id = ?", "missing").First(&row).Error
	if buf.Len() != 0 {
		t.Fatalf("expected no log output for a missing row, got %s", buf.String())
	}
}
