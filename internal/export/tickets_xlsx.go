// Package export renders ticket reports for administrators.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/spec-kit/support-chat/internal/domain"
)

// TicketSheet is the worksheet holding the ticket report.
const TicketSheet = "Tickets"

// TicketHeaders are the column titles of the ticket report, in order.
var TicketHeaders = []string{
	"ID", "Owner", "Category", "Urgency", "Status", "Assigned To",
	"Closure Reason", "Reassigned To", "Created At", "Updated At", "Last Message At", "Description",
}

// WriteTicketsXLSX writes tickets as a single-sheet workbook to w.
func WriteTicketsXLSX(w io.Writer, tickets []domain.Ticket) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(TicketSheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("drop default sheet: %w", err)
	}

	for i, header := range TicketHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(TicketSheet, cell, header); err != nil {
			return err
		}
	}

	for i, ticket := range tickets {
		row := []any{
			ticket.ID,
			ticket.OwnerID,
			ticket.Category,
			string(ticket.Urgency),
			string(ticket.Status),
			deref(ticket.AssignedTo),
			deref(ticket.ClosureReason),
			deref(ticket.ReassignedTo),
			formatTime(&ticket.CreatedAt),
			formatTime(&ticket.UpdatedAt),
			formatTime(ticket.LastMessageAt),
			ticket.Description,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(TicketSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.AutoFilter(TicketSheet, fmt.Sprintf("A1:L%d", len(tickets)+1), nil); err != nil {
		return fmt.Errorf("autofilter: %w", err)
	}
	_, err = f.WriteTo(w)
	return err
}

// TicketsFilename names an export produced at now.
func TicketsFilename(now time.Time) string {
	return fmt.Sprintf("tickets_%s.xlsx", now.UTC().Format("20060102_150405"))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
