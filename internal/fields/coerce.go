// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package fields

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/blang/semver/v4"
	"github.com/google/uuid"
)

var (
	trueStrings  = map[string]bool{"1": true, "t": true, "true": true, "on": true, "y": true, "yes": true}
	falseStrings = map[string]bool{"0": true, "f": true, "false": true, "off": true, "n": true, "no": true}
)

// LinkPrefix is the path prefix accepted for reference values.
const LinkPrefix = "/artifacts/"

func coerceScalar(k Kind, raw any) (any, error) {
	switch k {
	case Integer:
		return coerceInteger(raw)
	case Float:
		return coerceFloat(raw)
	case Boolean:
		return coerceBoolean(raw)
	case String:
		return coerceString(raw)
	case Version:
		return coerceVersion(raw)
	case Reference:
		return coerceReference(raw)
	case DateTime:
		return coerceDateTime(raw)
	}
	return nil, fmt.Errorf("%s is not a scalar type", k)
}

func coerceInteger(raw any) (any, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return nil, fmt.Errorf("value %d is out of range", v)
		}
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, fmt.Errorf("value %d is out of range", v)
		}
		return int64(v), nil
	case float32:
		return floatToInteger(float64(v))
	case float64:
		return floatToInteger(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", v.String())
		}
		return floatToInteger(f)
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", v)
		}
		return i, nil
	}
	return nil, fmt.Errorf("cannot convert %T to integer", raw)
}

func floatToInteger(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Trunc(f) != f {
		return nil, fmt.Errorf("%v is not an integer", f)
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return nil, fmt.Errorf("value %v is out of range", f)
	}
	return int64(f), nil
}

func coerceFloat(raw any) (any, error) {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", v.String())
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", v)
		}
		f = parsed
	default:
		i, err := coerceInteger(raw)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %T to float", raw)
		}
		f = float64(i.(int64))
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%v is not a finite number", f)
	}
	return f, nil
}

func coerceBoolean(raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		if trueStrings[s] {
			return true, nil
		}
		if falseStrings[s] {
			return false, nil
		}
		return nil, fmt.Errorf("%q is not a boolean", v)
	}
	if i, err := coerceInteger(raw); err == nil {
		switch i.(int64) {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
	}
	return nil, fmt.Errorf("cannot convert %v to boolean", raw)
}

func coerceString(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case json.Number:
		return v.String(), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32), nil
	}
	if i, err := coerceInteger(raw); err == nil {
		return strconv.FormatInt(i.(int64), 10), nil
	}
	return nil, fmt.Errorf("cannot convert %T to string", raw)
}

func coerceVersion(raw any) (any, error) {
	s, err := coerceString(raw)
	if err != nil {
		return nil, err
	}
	v, err := semver.ParseTolerant(s.(string))
	if err != nil {
		return nil, fmt.Errorf("%q is not a semantic version", s)
	}
	return v.String(), nil
}

// ParseLink splits a reference link into its type name and artifact id.
func ParseLink(link string) (string, string, error) {
	rest, ok := strings.CutPrefix(link, LinkPrefix)
	if !ok {
		return "", "", fmt.Errorf("link %q must start with %s", link, LinkPrefix)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("link %q must have the form %s<type>/<id>", link, LinkPrefix)
	}
	return parts[0], parts[1], nil
}

func coerceReference(raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("cannot convert %T to reference", raw)
	}
	id := strings.TrimSpace(s)
	if strings.HasPrefix(id, LinkPrefix) {
		_, linked, err := ParseLink(id)
		if err != nil {
			return nil, err
		}
		id = linked
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%q is not a valid artifact reference", s)
	}
	return parsed.String(), nil
}

func coerceDateTime(raw any) (any, error) {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC().Truncate(time.Microsecond), nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("%q is not an RFC 3339 timestamp", v)
		}
		return t.UTC().Truncate(time.Microsecond), nil
	}
	return nil, fmt.Errorf("cannot convert %T to datetime", raw)
}

func coerceList(elem Kind, raw any) ([]any, error) {
	if l, ok := raw.([]any); ok {
		out := make([]any, len(l))
		for i, e := range l {
			c, err := coerceElement(elem, e)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = c
		}
		return out, nil
	}
	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("cannot convert %T to list", raw)
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		c, err := coerceElement(elem, rv.Index(i).Interface())
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = c
	}
	return out, nil
}

func coerceDict(elem Kind, raw any) (map[string]any, error) {
	if m, ok := raw.(map[string]any); ok {
		out := make(map[string]any, len(m))
		for _, k := range sortedKeys(m) {
			c, err := coerceElement(elem, m[k])
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = c
		}
		return out, nil
	}
	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, fmt.Errorf("cannot convert %T to dict", raw)
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k := iter.Key().String()
		c, err := coerceElement(elem, iter.Value().Interface())
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = c
	}
	return out, nil
}

func coerceElement(elem Kind, raw any) (any, error) {
	if raw == nil {
		return nil, fmt.Errorf("null elements are not allowed")
	}
	return coerceScalar(elem, raw)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
