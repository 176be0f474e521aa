package config

import (
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		TransportKindHookFunc(),
	)),
}

// TransportKindHookFunc accepts transport names regardless of case and rejects unknown ones while the configuration is loaded.
func TransportKindHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		// check that src and target types are valid
		if f.Kind() != reflect.String || t != reflect.TypeOf(MemoryTransport) {
			return data, nil
		}
		kind := TransportKind(strings.ToLower(strings.TrimSpace(data.(string))))
		switch kind {
		case MemoryTransport, RedisTransport, NatsTransport:
			return kind, nil
		case "":
			return MemoryTransport, nil
		default:
			return nil, errors.Errorf("unknown transport %q", data)
		}
	}
}
