package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ExportService renders session transcripts as xlsx workbooks.
type ExportService struct {
	store ConversationStore
}

func NewExportService(store ConversationStore) *ExportService {
	return &ExportService{store: store}
}

// ExportTranscript returns the full transcript of a session as an xlsx
// workbook, one row per message in transcript order.
func (es *ExportService) ExportTranscript(ctx context.Context, sessionID string) ([]byte, string, error) {
	session, err := es.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}

	messages, err := es.store.History(ctx, sessionID, 0)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Transcript"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"Seq", "Time", "Role", "Content", "Cited Chunks"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDDDDD"}, Pattern: 1},
	})
	if err == nil {
		f.SetCellStyle(sheet, "A1", "E1", headerStyle)
	}

	for i, msg := range messages {
		row := i + 2
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), msg.Seq)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), msg.CreatedAt.Format("2006-01-02 15:04:05"))
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), msg.Role)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), msg.Content)
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), strings.Join(msg.CitedChunkIDs, ", "))
	}

	f.SetColWidth(sheet, "B", "B", 20)
	f.SetColWidth(sheet, "D", "D", 80)
	f.SetColWidth(sheet, "E", "E", 40)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, "", fmt.Errorf("failed to write workbook: %w", err)
	}

	filename := fmt.Sprintf("transcript-%s.xlsx", session.ID)
	return buf.Bytes(), filename, nil
}
