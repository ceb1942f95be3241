//go:build duckdb_arrow

package engine

import (
	"context"
	"database/sql/driver"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/duckdb/duckdb-go/v2"
)

// queryRecords reads the result through DuckDB's native Arrow interface.
func (d *DB) queryRecords(ctx context.Context, query string) (*arrow.Schema, []arrow.Record, error) {
	var (
		schema  *arrow.Schema
		records []arrow.Record
	)
	err := d.conn.Raw(func(driverConn any) error {
		dc, ok := driverConn.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		ar, err := duckdb.NewArrowFromConn(dc)
		if err != nil {
			return fmt.Errorf("arrow interface: %w", err)
		}
		rdr, err := ar.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer rdr.Release()

		// Record buffers belong to DuckDB and are freed with the reader.
		schema = rdr.Schema()
		for rdr.Next() {
			rec, err := copyRecord(d.alloc, rdr.Record())
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rdr.Err()
	})
	if err != nil {
		releaseAll(records)
		return nil, nil, err
	}
	return schema, records, nil
}
