package store

import (
	"context"
	"crypto/rand"
	"math/big"

	"github.com/pavelanni/suppcompanion/internal/model"
)

// InsertFile records a stored file.
func (s *Store) InsertFile(ctx context.Context, f *model.StoredFile) (int64, error) {
	if f.FilePath == "" {
		f.FilePath = "/"
	}
	now := s.now()
	id, err := s.insert(ctx,
		`INSERT INTO files (contextlevel, instanceid, component, filearea, itemid, filepath, filename,
			blobkey, mimetype, filesize, userid, timecreated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		int(f.Context.Level), f.Context.InstanceID, f.Component, f.FileArea, f.ItemID, f.FilePath, f.FileName,
		f.BlobKey, f.MimeType, f.Size, f.UserID, now.Unix())
	if err != nil {
		return 0, err
	}
	f.ID = id
	f.TimeCreated = now
	return id, nil
}

// AreaFiles lists the files of one file area item.
func (s *Store) AreaFiles(ctx context.Context, ref model.ContextRef, component, area string, itemID int64) ([]model.StoredFile, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT id, contextlevel, instanceid, component, filearea, itemid, filepath, filename, blobkey,
			mimetype, filesize, userid, timecreated
		 FROM files WHERE contextlevel = $1 AND instanceid = $2 AND component = $3 AND filearea = $4 AND itemid = $5
		 ORDER BY id`,
		int(ref.Level), ref.InstanceID, component, area, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var files []model.StoredFile
	for rows.Next() {
		var f model.StoredFile
		var level int
		var created int64
		if err := rows.Scan(&f.ID, &level, &f.Context.InstanceID, &f.Component, &f.FileArea, &f.ItemID,
			&f.FilePath, &f.FileName, &f.BlobKey, &f.MimeType, &f.Size, &f.UserID, &created); err != nil {
			return nil, err
		}
		f.Context.Level = model.ContextLevel(level)
		f.TimeCreated = fromUnix(created)
		files = append(files, f)
	}
	return files, rows.Err()
}

// MoveFile reassigns a file to another file area.
func (s *Store) MoveFile(ctx context.Context, id int64, ref model.ContextRef, component, area string, itemID int64) error {
	_, err := s.q(ctx).ExecContext(ctx,
		`UPDATE files SET contextlevel = $1, instanceid = $2, component = $3, filearea = $4, itemid = $5 WHERE id = $6`,
		int(ref.Level), ref.InstanceID, component, area, itemID, id)
	return err
}

// DeleteFile removes a file record.
func (s *Store) DeleteFile(ctx context.Context, id int64) error {
	_, err := s.q(ctx).ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id)
	return err
}

// UnusedDraftItemID returns a random draft item id that no file of the user's drafts uses.
func (s *Store) UnusedDraftItemID(ctx context.Context, userID int64) (int64, error) {
	for {
		n, err := rand.Int(rand.Reader, big.NewInt(999999999))
		if err != nil {
			return 0, err
		}
		id := n.Int64() + 1
		used, err := s.exists(ctx,
			`SELECT 1 FROM files WHERE contextlevel = $1 AND instanceid = $2 AND component = 'user' AND filearea = 'draft' AND itemid = $3`,
			int(model.ContextUser), userID, id)
		if err != nil {
			return 0, err
		}
		if !used {
			return id, nil
		}
	}
}
