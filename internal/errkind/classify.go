package errkind

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"net"
	"os"
	"syscall"

	"github.com/lib/pq"
)

// Classify maps an arbitrary error onto the taxonomy. Already-tagged errors
// pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return Wrap(KindTimeout, "operation cancelled", err)
	case errors.Is(err, sql.ErrNoRows):
		return Wrap(KindNotFound, "row not found", err)
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, sql.ErrTxDone):
		return Wrap(KindDBConnectionFailed, "database connection lost", err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return Wrap(KindDuplicateKey, "duplicate key", err)
		case "23503": // foreign_key_violation
			return Wrap(KindFKViolation, "foreign key violation", err)
		case "40001", "40P01": // serialization failure, deadlock
			return Wrap(KindTransactionFailed, "transaction conflict", err)
		}
		return Wrap(KindQueryFailed, "query failed", err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Wrap(KindDNSFailed, "dns lookup failed", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Wrap(KindTimeout, "network timeout", err)
		}
		return Wrap(KindConnectionFailed, "network error", err)
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Wrap(KindFileNotFound, "file not found", err)
	case errors.Is(err, fs.ErrPermission):
		return Wrap(KindPermissionDenied, "permission denied", err)
	case errors.Is(err, syscall.ENOSPC):
		return Wrap(KindDiskFull, "disk full", err)
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return Wrap(KindWriteFailed, "filesystem operation failed", err)
	}

	return Wrap(KindInvalidState, "unclassified error", err)
}
