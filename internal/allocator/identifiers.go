package allocator

import (
	"fmt"
	"strconv"
	"strings"

	"parking-sticker/internal/models"
	"parking-sticker/internal/store"
)

// FormatReference composes <RB|RP><YEAR><seq>, zero-padding seq to four digits.
func FormatReference(prefix string, year, seq int) string {
	return fmt.Sprintf("%s%04d%04d", prefix, year, seq)
}

// ParseReference splits a reference number into its columns.
func ParseReference(ref string) (store.ReferenceParts, error) {
	if len(ref) < 10 {
		return store.ReferenceParts{}, fmt.Errorf("reference %q too short", ref)
	}
	prefix := ref[:2]
	if prefix != models.TypeNew.ReferencePrefix() && prefix != models.TypeRenewal.ReferencePrefix() {
		return store.ReferenceParts{}, fmt.Errorf("reference %q has unknown prefix", ref)
	}
	year, err := strconv.Atoi(ref[2:6])
	if err != nil {
		return store.ReferenceParts{}, fmt.Errorf("reference %q has invalid year: %w", ref, err)
	}
	seq, err := strconv.Atoi(ref[6:])
	if err != nil || seq < 1 {
		return store.ReferenceParts{}, fmt.Errorf("reference %q has invalid sequence", ref)
	}
	return store.ReferenceParts{Prefix: prefix, Year: year, Seq: seq}, nil
}

// FormatSerial composes <PREFIX>/<YEAR>/<seq>.
func FormatSerial(prefix string, year, seq int) string {
	return fmt.Sprintf("%s/%04d/%04d", prefix, year, seq)
}

// ParseSerial returns the prefix and columns of a serial number.
func ParseSerial(serial string) (string, store.SerialParts, error) {
	parts := strings.Split(serial, "/")
	if len(parts) != 3 || parts[0] == "" {
		return "", store.SerialParts{}, fmt.Errorf("serial %q is not PREFIX/YEAR/SEQ", serial)
	}
	year, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", store.SerialParts{}, fmt.Errorf("serial %q has invalid year: %w", serial, err)
	}
	seq, err := strconv.Atoi(parts[2])
	if err != nil || seq < 1 {
		return "", store.SerialParts{}, fmt.Errorf("serial %q has invalid sequence", serial)
	}
	return parts[0], store.SerialParts{Year: year, Seq: seq}, nil
}

// ReferenceLockKey names the advisory lock serializing reference allocation
// for one (type, year).
func ReferenceLockKey(t models.ApplicationType, year int) string {
	return fmt.Sprintf("ref:%s:%d", t.ReferencePrefix(), year)
}
