package store

import (
	"context"

	"github.com/JonMunkholm/formexport/internal/core"
)

func (p *Postgres) GetFile(ctx context.Context, id string) (core.StoredFile, error) {
	var f core.StoredFile
	err := p.db.QueryRow(ctx,
		`SELECT id::text, original_name, mime_type, size, storage, created_by, created_at
		FROM file_storage WHERE id = $1`,
		id,
	).Scan(&f.ID, &f.OriginalName, &f.MimeType, &f.Size, &f.Storage, &f.CreatedBy, &f.CreatedAt)
	if err != nil {
		return core.StoredFile{}, wrap("file "+id, err)
	}
	return f, nil
}

// UpsertFile inserts the metadata row or replaces it when a regenerated
// export reuses the id.
func (p *Postgres) UpsertFile(ctx context.Context, f core.StoredFile) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO file_storage (id, original_name, mime_type, size, storage, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			original_name = EXCLUDED.original_name,
			mime_type = EXCLUDED.mime_type,
			size = EXCLUDED.size,
			storage = EXCLUDED.storage`,
		f.ID, f.OriginalName, f.MimeType, f.Size, f.Storage, f.CreatedBy, f.CreatedAt,
	)
	return wrap("upsert file "+f.ID, err)
}

func (p *Postgres) DeleteFile(ctx context.Context, id string) error {
	tag, err := p.db.Exec(ctx, `DELETE FROM file_storage WHERE id = $1`, id)
	return expectOne("delete file "+id, tag, err)
}
