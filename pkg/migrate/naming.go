package migrate

import (
	"crypto/sha1" //nolint:gosec // Identifier folding hash, not a security boundary
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/lib/pq"
)

// DefaultIdentifierLimit is the postgres identifier length in bytes
const DefaultIdentifierLimit = 63

const (
	softPrefix      = "__"
	changelogSuffix = "/:changelog"
	hashLen         = 8
)

// Namer builds physical identifiers within a length limit
type Namer struct {
	Limit int
}

// Fold shortens a name longer than the limit to <prefix>_<hash8>_<suffix>,
// where hash8 is the first 8 hex digits of sha1 of the full name
func (n Namer) Fold(name string) string {
	limit := n.Limit
	if limit <= 0 {
		limit = DefaultIdentifierLimit
	}

	if len(name) <= limit {
		return name
	}

	sum := sha1.Sum([]byte(name)) //nolint:gosec // See import
	hash := hex.EncodeToString(sum[:])[:hashLen]

	room := limit - hashLen - 2
	if room < 2 {
		return hash[:min(limit, hashLen)]
	}

	suffix := room / 2
	prefix := room - suffix

	return truncate(name, prefix) + "_" + hash + "_" + tail(name, suffix)
}

// Soft returns the soft-deleted name of a column or table basename: the
// prefix is added first, then the result is folded
func (n Namer) Soft(name string) string {
	return n.Fold(softPrefix + name)
}

// SoftTable soft-deletes the model part of a table name
func (n Namer) SoftTable(table string) string {
	idx := strings.LastIndex(table, "/")

	return n.Fold(table[:idx+1] + softPrefix + table[idx+1:])
}

// Changelog names the changelog table of a model table
func (n Namer) Changelog(table string) string {
	return n.Fold(table + changelogSuffix)
}

// Sequence names the identity sequence of a changelog table
func (n Namer) Sequence(changelog string) string {
	return n.Fold(changelog + "__id_seq")
}

// PrimaryKey names the primary key constraint of a table
func (n Namer) PrimaryKey(table string) string {
	return n.Fold(table + "_pkey")
}

// ForeignKey names the foreign key of a column
func (n Namer) ForeignKey(table, column string) string {
	return n.Fold("fk_" + table + "_" + column)
}

// Unique names the unique constraint of a column
func (n Namer) Unique(table, column string) string {
	return n.Fold("uq_" + table + "_" + column)
}

// Index names the index of a column
func (n Namer) Index(table, column string) string {
	return n.Fold("ix_" + table + "_" + column)
}

func isChangelog(table string) bool {
	return strings.Contains(table, "/:")
}

func isSoftDeleted(name string) bool {
	idx := strings.LastIndex(name, "/")

	return strings.HasPrefix(name[idx+1:], softPrefix)
}

// truncate cuts s to at most n bytes on a rune boundary
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}

	return s[:n]
}

// tail keeps at most the last n bytes of s on a rune boundary
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}

	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}

	return s[start:]
}

func quote(name string) string {
	return pq.QuoteIdentifier(name)
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = quote(name)
	}

	return strings.Join(quoted, ", ")
}

//nolint:gochecknoglobals // Lookup table of type spellings
var typeAliases = map[string]string{
	"int":                  "integer",
	"int4":                 "integer",
	"int8":                 "bigint",
	"bigserial":            "bigint",
	"float":                "double precision",
	"float8":               "double precision",
	"bool":                 "boolean",
	"timestamp":            "timestamp without time zone",
	"time":                 "time without time zone",
	"timestamptz":          "timestamp with time zone",
	"character varying":    "varchar",
	"geometry(geometry)":   "geometry",
	"geometry(geometry,0)": "geometry",
}

// canonicalType normalizes type spellings so desired and introspected types compare equal
func canonicalType(typ string) string {
	t := strings.ToLower(strings.Join(strings.Fields(typ), " "))
	t = strings.ReplaceAll(t, ", ", ",")

	if alias, ok := typeAliases[t]; ok {
		return alias
	}

	return t
}
