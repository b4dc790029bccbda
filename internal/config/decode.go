package config

import (
	"fmt"
	"reflect"

	"github.com/shopspring/decimal"
)

var (
	decimalType     = reflect.TypeOf(decimal.Decimal{})
	nullDecimalType = reflect.TypeOf(decimal.NullDecimal{})
)

// decimalHook decodes YAML and env scalars into decimal values.
func decimalHook(from, to reflect.Type, data any) (any, error) {
	if to != decimalType && to != nullDecimalType {
		return data, nil
	}
	if data == nil {
		if to == nullDecimalType {
			return decimal.NullDecimal{}, nil
		}
		return decimal.Zero, nil
	}

	var (
		d   decimal.Decimal
		err error
	)
	switch v := data.(type) {
	case decimal.Decimal:
		d = v
	case decimal.NullDecimal:
		return v, nil
	case string:
		if v == "" && to == nullDecimalType {
			return decimal.NullDecimal{}, nil
		}
		d, err = decimal.NewFromString(v)
	case float64:
		d = decimal.NewFromFloat(v)
	case float32:
		d = decimal.NewFromFloat32(v)
	case int:
		d = decimal.NewFromInt(int64(v))
	case int64:
		d = decimal.NewFromInt(v)
	case int32:
		d = decimal.NewFromInt32(v)
	default:
		return nil, fmt.Errorf("cannot decode %T into %s", data, to)
	}
	if err != nil {
		return nil, err
	}
	if to == nullDecimalType {
		return decimal.NewNullDecimal(d), nil
	}
	return d, nil
}
