package profile

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/odvcencio/aviary/pkg/errors"
)

// cookieDBName is the Chromium cookie store file inside a profile dir.
const cookieDBName = "Cookies"

const cookieSchema = `
CREATE TABLE IF NOT EXISTS cookies (
	creation_utc INTEGER NOT NULL,
	host_key TEXT NOT NULL,
	name TEXT NOT NULL,
	value TEXT NOT NULL,
	encrypted_value BLOB NOT NULL DEFAULT '',
	path TEXT NOT NULL,
	expires_utc INTEGER NOT NULL,
	is_secure INTEGER NOT NULL,
	is_httponly INTEGER NOT NULL,
	last_access_utc INTEGER NOT NULL,
	UNIQUE (host_key, name, path)
)`

// CopyCookies copies the cookie rows from the real profile's store into the
// destination profile dir, replacing whatever was there. Returns the number
// of cookies copied.
func CopyCookies(srcDir, dstDir string) (int, error) {
	srcPath := filepath.Join(srcDir, cookieDBName)
	if _, err := os.Stat(srcPath); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeProfileUnavailable, "source cookie store missing").
			WithContext("path", srcPath)
	}

	src, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", srcPath))
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeStorageCorrupt, "failed to open source cookie store")
	}
	defer src.Close()

	dst, err := sql.Open("sqlite", filepath.Join(dstDir, cookieDBName))
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to open destination cookie store")
	}
	defer dst.Close()

	if _, err := dst.Exec(cookieSchema); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to create cookie schema")
	}

	rows, err := src.Query(`
		SELECT creation_utc, host_key, name, value, encrypted_value, path,
		       expires_utc, is_secure, is_httponly, last_access_utc
		FROM cookies`)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeStorageCorrupt, "failed to read source cookies")
	}
	defer rows.Close()

	tx, err := dst.Begin()
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to begin cookie copy")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM cookies`); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to clear destination cookies")
	}

	stmt, err := tx.Prepare(`
		INSERT INTO cookies (creation_utc, host_key, name, value, encrypted_value, path,
		                     expires_utc, is_secure, is_httponly, last_access_utc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to prepare cookie insert")
	}
	defer stmt.Close()

	copied := 0
	for rows.Next() {
		var (
			creationUTC, expiresUTC, lastAccessUTC int64
			hostKey, name, value, path             string
			encryptedValue                         []byte
			isSecure, isHTTPOnly                   int
		)
		if err := rows.Scan(&creationUTC, &hostKey, &name, &value, &encryptedValue, &path,
			&expiresUTC, &isSecure, &isHTTPOnly, &lastAccessUTC); err != nil {
			return 0, errors.Wrap(err, errors.ErrCodeStorageCorrupt, "failed to scan cookie row")
		}
		if _, err := stmt.Exec(creationUTC, hostKey, name, value, encryptedValue, path,
			expiresUTC, isSecure, isHTTPOnly, lastAccessUTC); err != nil {
			return 0, errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to write cookie row")
		}
		copied++
	}
	if err := rows.Err(); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeStorageCorrupt, "cookie scan interrupted")
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to commit cookie copy")
	}
	return copied, nil
}
