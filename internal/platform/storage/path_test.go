package storage

import (
	"testing"
	"time"
)

func TestReportObjectPath(t *testing.T) {
	at := time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)

	got, err := ReportObjectPath("orders", at, "01HZX3AB", ".csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "reports/orders/2024/06/01/01HZX3AB.csv" {
		t.Fatalf("unexpected path %s", got)
	}

	got, err = ReportObjectPath("orders", at, "../../etc/passwd", "csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "reports/orders/2024/06/01/..-..-etc-passwd.csv" {
		t.Fatalf("expected traversal neutralised, got %s", got)
	}

	if _, err := ReportObjectPath("orders", time.Time{}, "x", "csv"); err == nil {
		t.Fatalf("expected error for zero time")
	}
	if _, err := ReportObjectPath("", at, "x", "csv"); err == nil {
		t.Fatalf("expected error for empty kind")
	}
}
