package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/marcus-qen/courier/internal/apierr"
	"github.com/marcus-qen/courier/internal/result"
)

const (
	ansiReset = "\x1b[0m"
	ansiRed   = "\x1b[31m"
)

const maxCell = 40

// errCallFailed makes main exit non-zero once errors have been printed.
var errCallFailed = errors.New("call failed")

// table lays rows out in aligned columns. Colour escapes do not count
// towards a column's width.
type table struct {
	headers []string
	rows    [][]string
}

func newTable(headers ...string) *table {
	return &table{headers: headers}
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) write(out io.Writer) {
	widths := make([]int, len(t.headers))
	for _, row := range append([][]string{t.headers}, t.rows...) {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], displayWidth(row[i]))
		}
	}

	rule := make([]string, len(widths))
	for i, w := range widths {
		rule[i] = strings.Repeat("-", w)
	}
	t.line(out, t.headers, widths)
	t.line(out, rule, widths)
	for _, row := range t.rows {
		t.line(out, row, widths)
	}
}

func (t *table) line(out io.Writer, cells []string, widths []int) {
	var b strings.Builder
	for i, w := range widths {
		c := ""
		if i < len(cells) {
			c = cells[i]
		}
		b.WriteString(c)
		if i < len(widths)-1 {
			b.WriteString(strings.Repeat(" ", w-displayWidth(c)+2))
		}
	}
	fmt.Fprintln(out, b.String())
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func displayWidth(s string) int {
	return utf8.RuneCountInString(ansiEscape.ReplaceAllString(s, ""))
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// shorten cuts s to n runes, marking the cut with an ellipsis.
func shorten(s string, n int) string {
	r := []rune(s)
	switch {
	case len(r) <= n:
		return s
	case n <= 1:
		return string(r[:max(n, 0)])
	}
	return string(r[:n-1]) + "…"
}

// cell renders one field value for a table.
func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return "-"
	case string:
		if t == "" {
			return "-"
		}
		return shorten(t, maxCell)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return shorten(string(data), maxCell)
	}
}

// columns orders the union of keys in rows, with id first.
func columns(rows []map[string]any) []string {
	seen := map[string]bool{}
	var keys []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i] == "id" || keys[j] == "id" {
			return keys[i] == "id"
		}
		return keys[i] < keys[j]
	})
	return keys
}

func printList(cfg cliConfig, res *result.List) error {
	if cfg.jsonOutput {
		out := map[string]any{"items": res.Value}
		if n, ok := res.DatasetSize(); ok {
			out["dataset_size"] = n
		}
		return writeJSON(os.Stdout, out)
	}

	keys := columns(res.Value)
	headers := make([]string, len(keys))
	for i, k := range keys {
		headers[i] = strings.ToUpper(k)
	}
	tbl := newTable(headers...)
	for _, item := range res.Value {
		row := make([]string, len(keys))
		for i, k := range keys {
			row[i] = cell(item[k])
		}
		tbl.add(row...)
	}
	tbl.write(os.Stdout)

	if n, ok := res.DatasetSize(); ok {
		fmt.Printf("\n%d of %d\n", len(res.Value), n)
	}
	return nil
}

func printMap(out io.Writer, m map[string]any) {
	tbl := newTable("FIELD", "VALUE")
	for _, k := range columns([]map[string]any{m}) {
		tbl.add(k, cell(m[k]))
	}
	tbl.write(out)
}

// printErrors writes errs and returns errCallFailed.
func printErrors(cfg cliConfig, errs *apierr.Collection) error {
	if cfg.jsonOutput {
		rendered, err := errs.Render(uuid.NewString())
		if err != nil {
			return err
		}
		if err := writeJSON(os.Stdout, rendered); err != nil {
			return err
		}
		return errCallFailed
	}
	renderErrors(os.Stdout, errs)
	return errCallFailed
}

func renderErrors(out io.Writer, errs *apierr.Collection) {
	tbl := newTable("CODE", "MESSAGE", "REFERENCE")
	for _, e := range errs.Errors() {
		ref := e.Reference
		if ref == "" {
			ref = "-"
		}
		tbl.add(ansiRed+e.Code+ansiReset, e.Message, ref)
	}
	tbl.write(out)
}
