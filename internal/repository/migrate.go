package repository

import (
	"context"
	"fmt"

	"github.com/joseph-ayodele/docextract/internal/common"
)

const extractJobTable = "extract_job"

// Migrate creates the extract_job table when it does not exist.
func (d *DB) Migrate(ctx context.Context) error {
	b := d.builder()
	q, args := b.CreateTable(extractJobTable).
		IfNotExists().
		Columns(
			b.Column("id").Type("varchar(36)").Attr("NOT NULL"),
			b.Column("source").Type("text").Attr("NOT NULL"),
			b.Column("doc_type").Type("varchar(32)").Attr("NOT NULL"),
			b.Column("status").Type("varchar(16)").Attr("NOT NULL"),
			b.Column("failed_stage").Type("varchar(32)"),
			b.Column("error_kind").Type("varchar(32)"),
			b.Column("error_message").Type("text"),
			b.Column("ocr_text").Type("text"),
			b.Column("ocr_confidence").Type("double precision"),
			b.Column("result_json").Type("text"),
			b.Column("model_name").Type("varchar(128)"),
			b.Column("warnings").Type("text"),
			b.Column("attempts").Type("integer").Attr("NOT NULL DEFAULT 0"),
			b.Column("started_at").Type("bigint").Attr("NOT NULL"),
			b.Column("finished_at").Type("bigint"),
		).
		PrimaryKey("id").
		Query()
	if err := d.Driver.Exec(ctx, q, args, nil); err != nil {
		return fmt.Errorf("%w: create %s: %v", common.ErrDatabase, extractJobTable, err)
	}
	return nil
}
