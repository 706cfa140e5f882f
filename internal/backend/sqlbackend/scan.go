package sqlbackend

import (
	"github.com/koustreak/datamodel/internal/backend"
	"github.com/koustreak/datamodel/internal/errs"
)

// scanFrame reads all rows of the result set into a Frame. Values keep the
// Go-native representation the driver produces; []byte is converted to
// string so frames compare the same across drivers.
//
// scanFrame always closes rows.
func scanFrame(rows Rows) (*backend.Frame, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to read column names", err)
	}

	frame := &backend.Frame{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		// Allocate scan targets as *any so the driver can write any type.
		dest := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to scan row", err)
		}
		for i, v := range dest {
			if b, ok := v.([]byte); ok {
				dest[i] = string(b)
			}
		}
		frame.Rows = append(frame.Rows, dest)
	}

	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "error during row iteration", err)
	}
	return frame, nil
}
