package manifest

import (
	"fmt"
	"strconv"
	"strings"
)

//nolint:gochecknoglobals // Lookup table of supported type names
var kinds = map[string]Kind{
	"string":   KindString,
	"integer":  KindInteger,
	"number":   KindNumber,
	"boolean":  KindBoolean,
	"date":     KindDate,
	"datetime": KindDatetime,
	"time":     KindTime,
	"binary":   KindBinary,
	"text":     KindText,
	"geometry": KindGeometry,
	"file":     KindFile,
	"url":      KindURL,
	"uri":      KindURI,
	"ref":      KindRef,
	"backref":  KindBackref,
	"array":    KindArray,
	"object":   KindObject,
	"enum":     KindEnum,
}

// typeSpec is a parsed type column, e.g. "geometry(point,3346)" or "string required unique"
type typeSpec struct {
	kind     Kind
	args     []string
	required bool
	unique   bool
}

func parseType(raw string) (typeSpec, error) {
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) == 0 {
		return typeSpec{}, nil
	}

	spec := typeSpec{}

	head := fields[0]
	if open := strings.Index(head, "("); open >= 0 {
		if !strings.HasSuffix(head, ")") {
			return typeSpec{}, fmt.Errorf("%w: %q", ErrUnsupportedType, raw)
		}

		for _, arg := range strings.Split(head[open+1:len(head)-1], ",") {
			if arg = strings.TrimSpace(arg); arg != "" {
				spec.args = append(spec.args, arg)
			}
		}

		head = head[:open]
	}

	kind, ok := kinds[strings.ToLower(head)]
	if !ok {
		return typeSpec{}, fmt.Errorf("%w: %q", ErrUnsupportedType, raw)
	}

	spec.kind = kind

	for _, flag := range fields[1:] {
		switch strings.ToLower(flag) {
		case "required":
			spec.required = true
		case "unique":
			spec.unique = true
		default:
			return typeSpec{}, fmt.Errorf("%w: unknown type flag %q in %q", ErrUnsupportedType, flag, raw)
		}
	}

	return spec, nil
}

// parseGeometry reads "geometry(point,3346)", "geometry(3346)" or "geometry(point)"
func parseGeometry(args []string) (*Geometry, error) {
	geom := &Geometry{}

	for _, arg := range args {
		if srid, err := strconv.Atoi(arg); err == nil {
			geom.SRID = srid
			continue
		}

		switch strings.ToLower(arg) {
		case "point", "linestring", "polygon", "multipoint", "multilinestring", "multipolygon", "geometrycollection", "geometry":
			geom.Shape = strings.ToUpper(arg)
		default:
			return nil, fmt.Errorf("%w: geometry argument %q", ErrUnsupportedType, arg)
		}
	}

	return geom, nil
}

// parseRef reads "Country" or "Country[code, region]"
func parseRef(raw string) (string, []string) {
	raw = strings.TrimSpace(raw)

	open := strings.Index(raw, "[")
	if open < 0 || !strings.HasSuffix(raw, "]") {
		return raw, nil
	}

	return strings.TrimSpace(raw[:open]), splitList(raw[open+1 : len(raw)-1])
}

func splitList(raw string) []string {
	var out []string

	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}

func parseAccess(raw string) (Access, error) {
	switch Access(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return "", nil
	case AccessPrivate:
		return AccessPrivate, nil
	case AccessProtected:
		return AccessProtected, nil
	case AccessPublic:
		return AccessPublic, nil
	case AccessOpen:
		return AccessOpen, nil
	default:
		return "", fmt.Errorf("unknown access %q", raw)
	}
}

func parseLevel(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}

	level, err := strconv.Atoi(raw)
	if err != nil || level < 0 || level > 5 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, raw)
	}

	return level, nil
}
