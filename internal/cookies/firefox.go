package cookies

import (
	"context"
	"database/sql"
	"time"

	"github.com/tnunamak/usagebar/internal/errs"
)

// Expiry values above this are milliseconds rather than seconds.
const firefoxMillisThreshold = 100_000_000_000

func firefoxTime(expiry int64) *time.Time {
	if expiry <= 0 {
		return nil
	}
	var t time.Time
	if expiry > firefoxMillisThreshold {
		t = time.UnixMilli(expiry).UTC()
	} else {
		t = time.Unix(expiry, 0).UTC()
	}
	return &t
}

func readFirefox(ctx context.Context, db *sql.DB, domains []string) ([]Record, error) {
	where, args := hostFilter("host", domains)
	rows, err := db.QueryContext(ctx, `SELECT host, name, path, value, expiry, isSecure, isHttpOnly
		FROM moz_cookies WHERE `+where, args...)
	if err != nil {
		return nil, errs.New(errs.KindCookieDBNotReadable, "query moz_cookies", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			host, name, path, value string
			expiry                  int64
			secure, httpOnly        bool
		)
		if err := rows.Scan(&host, &name, &path, &value, &expiry, &secure, &httpOnly); err != nil {
			return nil, errs.New(errs.KindDataCorrupted, "scan moz_cookie", err)
		}
		out = append(out, Record{
			Host:     normalizeDomain(host),
			Name:     name,
			Path:     path,
			Value:    value,
			Expires:  firefoxTime(expiry),
			Secure:   secure,
			HTTPOnly: httpOnly,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.KindDataCorrupted, "read moz_cookies", err)
	}
	return out, nil
}
