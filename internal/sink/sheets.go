package sink

import (
	"context"
	"fmt"

	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"

	"github.com/luckyPipewrench/hookrelay/internal/event"
)

// SheetsSink appends events as rows to a worksheet in a shared Google
// spreadsheet. The service client is built once at startup; if that
// fails, the caller marks the capability unconfigured for the process
// lifetime rather than retrying per request.
type SheetsSink struct {
	svc           *sheets.Service
	spreadsheetID string
	worksheet     string
}

// NewSheets builds a Sheets sink authenticated with a service-account
// credential blob.
func NewSheets(ctx context.Context, spreadsheetID, worksheet string, credentialsJSON []byte) (*SheetsSink, error) {
	svc, err := sheets.NewService(ctx,
		option.WithCredentialsJSON(credentialsJSON),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("building sheets client: %w", err)
	}
	return &SheetsSink{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		worksheet:     worksheet,
	}, nil
}

// Name implements Sink.
func (s *SheetsSink) Name() string { return "sheets" }

// Configured implements Sink.
func (s *SheetsSink) Configured() bool { return true }

// Close implements Sink. The underlying HTTP client needs no teardown.
func (s *SheetsSink) Close() error { return nil }

// Append writes one five-column row below the worksheet's existing data.
func (s *SheetsSink) Append(ctx context.Context, ev *event.Event) error {
	row := ev.Row()
	values := make([]any, len(row))
	for i, v := range row {
		values[i] = v
	}

	_, err := s.svc.Spreadsheets.Values.
		Append(s.spreadsheetID, s.worksheet, &sheets.ValueRange{
			Values: [][]any{values},
		}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("appending to %s!%s: %w", s.spreadsheetID, s.worksheet, err)
	}
	return nil
}
