package rpc

// DecodeEventData reconstitutes binary payloads that were flattened into a
// {"type": "Buffer", "data": [...]} object by a JSON-speaking worker. Any
// other value is returned unchanged.
func DecodeEventData(data any) any {
	m, ok := data.(map[string]any)
	if !ok || m["type"] != "Buffer" {
		return data
	}

	switch raw := m["data"].(type) {
	case []byte:
		return raw
	case []any:
		out := make([]byte, len(raw))
		for i, v := range raw {
			b, ok := toByte(v)
			if !ok {
				return data
			}
			out[i] = b
		}
		return out
	default:
		return data
	}
}

func toByte(v any) (byte, bool) {
	var n int64
	switch x := v.(type) {
	case float64:
		if x != float64(int64(x)) {
			return 0, false
		}
		n = int64(x)
	case int:
		n = int64(x)
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint8:
		n = int64(x)
	case uint16:
		n = int64(x)
	case uint32:
		n = int64(x)
	case uint64:
		if x > 255 {
			return 0, false
		}
		n = int64(x)
	default:
		return 0, false
	}
	if n < 0 || n > 255 {
		return 0, false
	}
	return byte(n), true
}
