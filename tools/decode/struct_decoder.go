package decode

import (
	"fmt"
	"math"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// Options 用于定制 Decode 行为。
type Options struct {
	// 是否启用宽松解码（默认 true）：
	// 例如 "123" -> int、1.0 -> int64 等。
	WeaklyTypedInput bool
}

// DefaultOptions 返回默认选项。
func DefaultOptions() Options {
	return Options{
		WeaklyTypedInput: true,
	}
}

// DecodeMap 将 map[string]any（feed snapshot 的 Data、websocket 帧 payload）
// 动态解码到任意结构体 T。结构体字段读取使用 `json` tag。
// JSON 反序列化把所有数值变成 float64，floatToIntHook 负责还原整型时间戳。
func DecodeMap[T any](m map[string]any, opts ...Options) (*T, error) {
	if m == nil {
		return nil, fmt.Errorf("map is nil")
	}

	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
	}

	var out T
	decCfg := &mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			floatToIntHook(),
		),
	}

	dec, err := mapstructure.NewDecoder(decCfg)
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(m); err != nil {
		return nil, err
	}
	return &out, nil
}

// floatToIntHook：float64 -> int/int32/int64（仅当值是整数时）
func floatToIntHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.Float64 {
			return data, nil
		}
		f := data.(float64)
		switch to.Kind() {
		case reflect.Int, reflect.Int32, reflect.Int64:
			if f == math.Trunc(f) {
				return int64(f), nil
			}
			return nil, fmt.Errorf("cannot decode %v into %s: not an integer", f, to.Kind())
		default:
			return data, nil
		}
	}
}
