package memory

import (
	"context"
	"encoding/csv"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/koustreak/datamodel/internal/errs"
	"github.com/koustreak/datamodel/internal/filestore"
)

// ReadCSV reads a CSV stream whose first record is the header. Cells are
// typed on the way in: empty is NULL, then int64, float64, the literals
// true/false, and string otherwise.
func (b *Backend) ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errs.New(errs.ErrKindInvalidInput, "csv has no header row")
	}
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to read csv header", err)
	}

	var rows [][]any
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to read csv record", err)
		}
		row := make([]any, len(rec))
		for i, cell := range rec {
			row[i] = parseCell(cell)
		}
		rows = append(rows, row)
	}
	return b.NewTable(header, rows)
}

// LoadCSV reads one CSV object from store.
func (b *Backend) LoadCSV(ctx context.Context, store filestore.Store, bucket, key string) (*Table, error) {
	obj, err := store.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return b.ReadCSV(obj)
}

// LoadCSVPrefix reads every *.csv object under prefix. The map key is the
// object's base name without extension, e.g. "nyc/flights.csv" -> "flights".
func (b *Backend) LoadCSVPrefix(ctx context.Context, store filestore.Store, bucket, prefix string) (map[string]*Table, error) {
	objects, err := store.ListObjects(ctx, bucket, filestore.ListOptions{Prefix: prefix, Recursive: true})
	if err != nil {
		return nil, err
	}

	tables := make(map[string]*Table)
	for _, o := range objects {
		if o.IsDir || !strings.HasSuffix(o.Key, ".csv") {
			continue
		}
		t, err := b.LoadCSV(ctx, store, bucket, o.Key)
		if err != nil {
			return nil, err
		}
		tables[strings.TrimSuffix(path.Base(o.Key), ".csv")] = t
	}
	return tables, nil
}

func parseCell(s string) any {
	if s == "" {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}
