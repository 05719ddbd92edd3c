package manager

import "reflect"

// toPayload flattens a typed SIP2 request or response struct (or
// pointer to one) into a map[string]any keyed by exported field name,
// so the masking service's key-based classification can inspect it.
// Non-struct values and nil pointers pass through unchanged.
func toPayload(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return v
	}

	out := make(map[string]any, rv.NumField())
	rt := rv.Type()
	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if field.PkgPath != "" { // unexported
			continue
		}
		fieldValue := rv.Field(i)
		switch fieldValue.Kind() {
		case reflect.Struct, reflect.Ptr:
			out[field.Name] = toPayload(fieldValue.Interface())
		case reflect.Slice, reflect.Array:
			items := make([]any, fieldValue.Len())
			for j := 0; j < fieldValue.Len(); j++ {
				items[j] = toPayload(fieldValue.Index(j).Interface())
			}
			out[field.Name] = items
		default:
			out[field.Name] = fieldValue.Interface()
		}
	}
	return out
}
