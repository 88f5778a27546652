// Package sheets implements remote.Spreadsheet on the Google Sheets v4
// values API.
package sheets

import (
	"context"
	"net/http"
	"net/url"
	"sort"

	"github.com/tidwall/gjson"

	"homehealth-sync-service/internal/remote"
)

type Client struct {
	http *remote.HTTPClient
}

var _ remote.Spreadsheet = (*Client)(nil)

func New(httpClient *remote.HTTPClient) *Client {
	return &Client{http: httpClient}
}

func valuesPath(spreadsheetID, rangeSpec string) string {
	return "/v4/spreadsheets/" + url.PathEscape(spreadsheetID) + "/values/" + url.PathEscape(rangeSpec)
}

func (c *Client) ReadRange(ctx context.Context, spreadsheetID, rangeSpec string) ([][]string, error) {
	const op = "sheets.ReadRange"
	body, err := c.http.Do(ctx, op, http.MethodGet, valuesPath(spreadsheetID, rangeSpec),
		url.Values{"majorDimension": {"ROWS"}}, nil)
	if err != nil {
		return nil, err
	}

	values := gjson.GetBytes(body, "values")
	if !values.Exists() {
		return nil, nil
	}
	if !values.IsArray() {
		return nil, remote.SchemaError(op, "values is %s, want array", values.Type)
	}

	var (
		rows    [][]string
		rowErr  error
		rowSeen int
	)
	values.ForEach(func(_, row gjson.Result) bool {
		if !row.IsArray() {
			rowErr = remote.SchemaError(op, "row %d is %s, want array", rowSeen, row.Type)
			return false
		}
		cells := row.Array()
		out := make([]string, len(cells))
		for i, cell := range cells {
			out[i] = cell.String()
		}
		rows = append(rows, out)
		rowSeen++
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	return rows, nil
}

func (c *Client) WriteRange(ctx context.Context, spreadsheetID, rangeSpec string, rows [][]string) error {
	const op = "sheets.WriteRange"
	body, err := c.http.Do(ctx, op, http.MethodPut, valuesPath(spreadsheetID, rangeSpec),
		url.Values{"valueInputOption": {"RAW"}},
		map[string]any{"range": rangeSpec, "majorDimension": "ROWS", "values": rows})
	if err != nil {
		return err
	}
	if !gjson.GetBytes(body, "updatedRange").Exists() {
		return remote.SchemaError(op, "response has no updatedRange")
	}
	return nil
}

func (c *Client) AppendRow(ctx context.Context, spreadsheetID, rangeSpec string, row []string) error {
	const op = "sheets.AppendRow"
	body, err := c.http.Do(ctx, op, http.MethodPost, valuesPath(spreadsheetID, rangeSpec)+":append",
		url.Values{"valueInputOption": {"RAW"}, "insertDataOption": {"INSERT_ROWS"}},
		map[string]any{"majorDimension": "ROWS", "values": [][]string{row}})
	if err != nil {
		return err
	}
	if !gjson.GetBytes(body, "updates").Exists() {
		return remote.SchemaError(op, "response has no updates")
	}
	return nil
}

// BatchDeleteRows removes whole rows of the named sheet. Indices are
// deleted highest first so earlier deletions do not shift later ones.
func (c *Client) BatchDeleteRows(ctx context.Context, spreadsheetID, sheet string, rowIndices []int) error {
	const op = "sheets.BatchDeleteRows"
	if len(rowIndices) == 0 {
		return nil
	}

	meta, err := c.http.Do(ctx, op, http.MethodGet, "/v4/spreadsheets/"+url.PathEscape(spreadsheetID),
		url.Values{"fields": {"sheets.properties"}}, nil)
	if err != nil {
		return err
	}
	sheets := gjson.GetBytes(meta, "sheets")
	if !sheets.IsArray() {
		return remote.SchemaError(op, "spreadsheet metadata has no sheets array")
	}
	var sheetID gjson.Result
	sheets.ForEach(func(_, s gjson.Result) bool {
		if s.Get("properties.title").String() == sheet {
			sheetID = s.Get("properties.sheetId")
			return false
		}
		return true
	})
	if !sheetID.Exists() {
		return remote.NewError(remote.KindNotFound, op, errSheetNotFound(sheet))
	}

	indices := append([]int(nil), rowIndices...)
	sort.Sort(sort.Reverse(sort.IntSlice(indices)))
	requests := make([]map[string]any, 0, len(indices))
	for _, idx := range indices {
		requests = append(requests, map[string]any{
			"deleteDimension": map[string]any{
				"range": map[string]any{
					"sheetId":    sheetID.Int(),
					"dimension":  "ROWS",
					"startIndex": idx,
					"endIndex":   idx + 1,
				},
			},
		})
	}

	_, err = c.http.Do(ctx, op, http.MethodPost, "/v4/spreadsheets/"+url.PathEscape(spreadsheetID)+":batchUpdate",
		nil, map[string]any{"requests": requests})
	return err
}

type errSheetNotFound string

func (e errSheetNotFound) Error() string { return "sheet " + string(e) + " not found" }
