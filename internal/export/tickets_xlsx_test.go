package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/spec-kit/support-chat/internal/domain"
)

func TestWriteTicketsXLSX(t *testing.T) {
	member := "m1"
	reason := "resolved"
	created := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	tickets := []domain.Ticket{
		{ID: "t1", OwnerID: "u1", Category: "billing", Urgency: domain.UrgencyHigh, Status: domain.TicketStatusClosed, AssignedTo: &member, ClosureReason: &reason, CreatedAt: created, UpdatedAt: created},
		{ID: "t2", OwnerID: "u2", Category: "login", Urgency: domain.UrgencyLow, Status: domain.TicketStatusOpen, CreatedAt: created, UpdatedAt: created},
	}

	var buf bytes.Buffer
	if err := WriteTicketsXLSX(&buf, tickets); err != nil {
		t.Fatal(err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if sheets := f.GetSheetList(); len(sheets) != 1 || sheets[0] != TicketSheet {
		t.Fatalf("sheets = %v", sheets)
	}
	rows, err := f.GetRows(TicketSheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0][0] != "ID" || rows[0][4] != "Status" {
		t.Fatalf("header = %v", rows[0])
	}
	if rows[1][0] != "t1" || rows[1][5] != "m1" || rows[1][6] != "resolved" || rows[1][8] != "2026-02-03T04:05:06Z" {
		t.Fatalf("row 1 = %v", rows[1])
	}
	if rows[2][4] != "open" || rows[2][5] != "" {
		t.Fatalf("row 2 = %v", rows[2])
	}
}

func TestTicketsFilename(t *testing.T) {
	got := TicketsFilename(time.Date(2026, 10, 16, 13, 4, 5, 0, time.UTC))
	if got != "tickets_20261016_130405.xlsx" {
		t.Fatalf("filename = %s", got)
	}
}
