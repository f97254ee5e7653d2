package database

import (
	"fmt"
	"strings"
)

// uriScheme is the prefix SQLite recognises as a URI filename.
const uriScheme = "file:"

// uriEscaper percent-encodes the characters SQLite gives meaning to inside
// a URI path, so a plain path survives the trip through a file: URI.
var uriEscaper = strings.NewReplacer(
	"%", "%25",
	"?", "%3F",
	"#", "%23",
)

// plainPathURI expresses a filesystem path as a file: URI naming the same file.
//
// Absolute paths get an empty authority ("file://" + path), so a path that
// itself begins with "//" is not read as a host name.
func plainPathURI(path string) string {
	escaped := uriEscaper.Replace(path)
	if strings.HasPrefix(path, "/") {
		return uriScheme + "//" + escaped
	}
	return uriScheme + escaped
}

// buildDSN converts cfg into a go-sqlite3 connection string.
//
// Plain paths are always expressed as file: URIs with their special
// characters escaped; this keeps the literal filename intact while still
// letting driver pragmas ride in the query string.
// See: https://github.com/mattn/go-sqlite3#connection-string
func buildDSN(cfg Config) (string, error) {
	if cfg.Path == "" {
		return "", fmt.Errorf("%w: path is required", ErrOpen)
	}

	var dsn string
	if cfg.URI && strings.HasPrefix(cfg.Path, uriScheme) {
		dsn = cfg.Path
	} else {
		dsn = plainPathURI(cfg.Path)
	}

	var pragmas []string
	if cfg.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("_busy_timeout=%d", cfg.BusyTimeout*msPerSecond))
	}
	if cfg.WALMode {
		pragmas = append(pragmas, "_journal_mode=WAL", "_synchronous=NORMAL")
	}
	if len(pragmas) == 0 {
		return dsn, nil
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(pragmas, "&"), nil
}
