package database

import (
	"database/sql"
	"fmt"
	"reflect"
)

// columnsOf lists the tagged columns of record with their values. With
// forInsert a zero id is skipped so the database assigns it; otherwise id is
// always skipped.
func columnsOf(record any, forInsert bool) (cols []string, vals []any) {
	v := reflect.Indirect(reflect.ValueOf(record))
	walkColumns(v, func(col string, f reflect.Value) {
		if col == "id" && (!forInsert || f.IsZero()) {
			return
		}
		cols = append(cols, col)
		vals = append(vals, f.Interface())
	})
	return cols, vals
}

// walkColumns visits every `db:` tagged field of the struct v, descending
// into untagged embedded structs.
func walkColumns(v reflect.Value, visit func(col string, f reflect.Value)) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get("db")
		if tag == "-" {
			continue
		}
		if tag == "" {
			if sf.Anonymous && sf.Type.Kind() == reflect.Struct {
				walkColumns(v.Field(i), visit)
			}
			continue
		}
		visit(tag, v.Field(i))
	}
}

// fieldPointers maps the result columns onto struct field pointers. Columns
// without a matching field are scanned into a discard slot.
func fieldPointers(elem reflect.Value, cols []string) []any {
	byTag := map[string]any{}
	walkColumns(elem, func(col string, f reflect.Value) {
		byTag[col] = f.Addr().Interface()
	})
	ptrs := make([]any, len(cols))
	for i, c := range cols {
		if p, ok := byTag[c]; ok {
			ptrs[i] = p
			continue
		}
		var discard any
		ptrs[i] = &discard
	}
	return ptrs
}

func scanRows(rows *sql.Rows, dest any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("Select: dest must be a pointer to a slice")
	}
	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	slice := dv.Elem()
	elemType := slice.Type().Elem()
	isPtr := elemType.Kind() == reflect.Pointer
	if isPtr {
		elemType = elemType.Elem()
	}
	for rows.Next() {
		elem := reflect.New(elemType).Elem()
		if err := rows.Scan(fieldPointers(elem, cols)...); err != nil {
			return err
		}
		if isPtr {
			elem = elem.Addr()
		}
		slice.Set(reflect.Append(slice, elem))
	}
	return rows.Err()
}

func scanRow(rows *sql.Rows, dest any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("Get: dest must be a pointer to a struct")
	}
	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return sql.ErrNoRows
	}
	if err := rows.Scan(fieldPointers(dv.Elem(), cols)...); err != nil {
		return err
	}
	return rows.Err()
}
