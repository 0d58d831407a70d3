// Package flagx binds cobra flags to request structs.
//
//	type getRequest struct {
//	    URL   string        `flag:"url,u" usage:"endpoint to fetch on a miss" required:"true"`
//	    TTL   time.Duration `flag:"ttl" usage:"entry lifetime" default:"1m"`
//	    Force bool          `flag:"force,f" usage:"bypass fresh entries"`
//	}
//
//	var req getRequest
//	flagx.BindFlags(cmd, &req)      // while building the command
//	flagx.ParseFlags(cmd, &req)     // inside RunE
package flagx

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var durationType = reflect.TypeOf(time.Duration(0))

type flagSpec struct {
	name     string
	short    string
	usage    string
	def      string
	required bool
}

// fields walks the tagged fields of a struct pointer, descending into
// embedded structs.
func fields(target interface{}, fn func(reflect.StructField, reflect.Value, flagSpec) error) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("target must be a pointer to struct")
	}
	return walk(v.Elem(), fn)
}

func walk(v reflect.Value, fn func(reflect.StructField, reflect.Value, flagSpec) error) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get("flag")
		if tag == "" && sf.Anonymous && sf.Type.Kind() == reflect.Struct {
			if err := walk(v.Field(i), fn); err != nil {
				return err
			}
			continue
		}
		if tag == "" || !sf.IsExported() {
			continue
		}
		name, short, _ := strings.Cut(tag, ",")
		spec := flagSpec{
			name:     name,
			short:    short,
			usage:    sf.Tag.Get("usage"),
			def:      sf.Tag.Get("default"),
			required: sf.Tag.Get("required") == "true",
		}
		if err := fn(sf, v.Field(i), spec); err != nil {
			return fmt.Errorf("field %s: %w", sf.Name, err)
		}
	}
	return nil
}

// BindFlags registers one flag per tagged field.
func BindFlags(cmd *cobra.Command, target interface{}) error {
	return fields(target, func(sf reflect.StructField, _ reflect.Value, s flagSpec) error {
		if err := register(cmd, sf.Type, s); err != nil {
			return err
		}
		if s.required {
			return cmd.MarkFlagRequired(s.name)
		}
		return nil
	})
}

func register(cmd *cobra.Command, typ reflect.Type, s flagSpec) error {
	fs := cmd.Flags()
	if typ == durationType {
		var def time.Duration
		if s.def != "" {
			d, err := time.ParseDuration(s.def)
			if err != nil {
				return fmt.Errorf("default %q: %w", s.def, err)
			}
			def = d
		}
		fs.DurationP(s.name, s.short, def, s.usage)
		return nil
	}

	switch typ.Kind() {
	case reflect.String:
		fs.StringP(s.name, s.short, s.def, s.usage)
	case reflect.Int:
		def, err := parseDefault(s.def, strconv.Atoi)
		if err != nil {
			return err
		}
		fs.IntP(s.name, s.short, def, s.usage)
	case reflect.Bool:
		def, err := parseDefault(s.def, strconv.ParseBool)
		if err != nil {
			return err
		}
		fs.BoolP(s.name, s.short, def, s.usage)
	case reflect.Float64:
		def, err := parseDefault(s.def, func(v string) (float64, error) { return strconv.ParseFloat(v, 64) })
		if err != nil {
			return err
		}
		fs.Float64P(s.name, s.short, def, s.usage)
	case reflect.Slice:
		if typ.Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element type: %s", typ.Elem().Kind())
		}
		var def []string
		if s.def != "" {
			def = strings.Split(s.def, ",")
		}
		fs.StringSliceP(s.name, s.short, def, s.usage)
	default:
		return fmt.Errorf("unsupported field type: %s", typ.Kind())
	}
	return nil
}

func parseDefault[T any](raw string, parse func(string) (T, error)) (T, error) {
	var zero T
	if raw == "" {
		return zero, nil
	}
	v, err := parse(raw)
	if err != nil {
		return zero, fmt.Errorf("default %q: %w", raw, err)
	}
	return v, nil
}

// ParseFlags copies flag values into the tagged fields. Flags that were
// never registered leave their field untouched.
func ParseFlags(cmd *cobra.Command, target interface{}) error {
	return fields(target, func(sf reflect.StructField, field reflect.Value, s flagSpec) error {
		fs := cmd.Flags()
		if fs.Lookup(s.name) == nil {
			return nil
		}
		if sf.Type == durationType {
			d, err := fs.GetDuration(s.name)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		switch sf.Type.Kind() {
		case reflect.String:
			val, err := fs.GetString(s.name)
			if err != nil {
				return err
			}
			field.SetString(val)
		case reflect.Int:
			val, err := fs.GetInt(s.name)
			if err != nil {
				return err
			}
			field.SetInt(int64(val))
		case reflect.Bool:
			val, err := fs.GetBool(s.name)
			if err != nil {
				return err
			}
			field.SetBool(val)
		case reflect.Float64:
			val, err := fs.GetFloat64(s.name)
			if err != nil {
				return err
			}
			field.SetFloat(val)
		case reflect.Slice:
			val, err := fs.GetStringSlice(s.name)
			if err != nil {
				return err
			}
			field.Set(reflect.ValueOf(val))
		default:
			return fmt.Errorf("unsupported field type: %s", sf.Type.Kind())
		}
		return nil
	})
}
