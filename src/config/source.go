package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Source is the typed key/value view of an experiment description. It is only
// consulted while an experiment is being assembled, never during dispatch.
// Keys are dotted paths and are case-insensitive.
type Source interface {
	Contains(key string) bool

	String(key string) (string, error)
	StringOr(key string, def string) string

	Int(key string) (int, error)
	IntOr(key string, def int) int

	Int64(key string) (int64, error)
	Int64Or(key string, def int64) int64

	Float64(key string) (float64, error)
	Float64Or(key string, def float64) float64

	Bool(key string) (bool, error)
	BoolOr(key string, def bool) bool

	// Names returns the full names of the entries directly under prefix, in
	// the order given by "order.<prefix>" when present, alphabetically
	// otherwise.
	Names(prefix string) []string
}

// MissingKeyError is returned when a required key is absent.
type MissingKeyError struct {
	Key string
}

// Error ...
func (e MissingKeyError) Error() string {
	return fmt.Sprintf("missing configuration key %q", e.Key)
}

// IsMissingKey reports whether err is a MissingKeyError.
func IsMissingKey(err error) bool {
	_, ok := err.(MissingKeyError)
	return ok
}

// ViperSource implements Source on top of a viper instance.
type ViperSource struct {
	v *viper.Viper
}

// NewViperSource wraps v.
func NewViperSource(v *viper.Viper) *ViperSource {
	return &ViperSource{v: v}
}

// LoadSource reads the experiment file at path. The format is inferred from
// the extension (toml, yaml, json, properties...).
func LoadSource(path string) (*ViperSource, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return NewViperSource(v), nil
}

// NewMapSource builds a Source from flat dotted keys. Mostly useful in tests
// and for programmatic experiments.
func NewMapSource(values map[string]interface{}) *ViperSource {
	v := viper.New()
	for k, val := range values {
		v.Set(k, val)
	}
	return NewViperSource(v)
}

// Viper exposes the underlying viper instance.
func (s *ViperSource) Viper() *viper.Viper {
	return s.v
}

// Contains ...
func (s *ViperSource) Contains(key string) bool {
	return s.v.IsSet(key)
}

// String ...
func (s *ViperSource) String(key string) (string, error) {
	if !s.v.IsSet(key) {
		return "", MissingKeyError{key}
	}
	return cast.ToStringE(s.v.Get(key))
}

// StringOr ...
func (s *ViperSource) StringOr(key string, def string) string {
	res, err := s.String(key)
	if err != nil {
		return def
	}
	return res
}

// Int ...
func (s *ViperSource) Int(key string) (int, error) {
	if !s.v.IsSet(key) {
		return 0, MissingKeyError{key}
	}
	return cast.ToIntE(s.v.Get(key))
}

// IntOr ...
func (s *ViperSource) IntOr(key string, def int) int {
	res, err := s.Int(key)
	if err != nil {
		return def
	}
	return res
}

// Int64 ...
func (s *ViperSource) Int64(key string) (int64, error) {
	if !s.v.IsSet(key) {
		return 0, MissingKeyError{key}
	}
	return cast.ToInt64E(s.v.Get(key))
}

// Int64Or ...
func (s *ViperSource) Int64Or(key string, def int64) int64 {
	res, err := s.Int64(key)
	if err != nil {
		return def
	}
	return res
}

// Float64 ...
func (s *ViperSource) Float64(key string) (float64, error) {
	if !s.v.IsSet(key) {
		return 0, MissingKeyError{key}
	}
	return cast.ToFloat64E(s.v.Get(key))
}

// Float64Or ...
func (s *ViperSource) Float64Or(key string, def float64) float64 {
	res, err := s.Float64(key)
	if err != nil {
		return def
	}
	return res
}

// Bool ...
func (s *ViperSource) Bool(key string) (bool, error) {
	if !s.v.IsSet(key) {
		return false, MissingKeyError{key}
	}
	return cast.ToBoolE(s.v.Get(key))
}

// BoolOr ...
func (s *ViperSource) BoolOr(key string, def bool) bool {
	res, err := s.Bool(key)
	if err != nil {
		return def
	}
	return res
}

// Names ...
func (s *ViperSource) Names(prefix string) []string {
	prefix = strings.ToLower(prefix)
	lead := prefix + "."

	set := make(map[string]bool)
	for _, k := range s.v.AllKeys() {
		if !strings.HasPrefix(k, lead) {
			continue
		}
		rest := strings.TrimPrefix(k, lead)
		if i := strings.Index(rest, "."); i >= 0 {
			rest = rest[:i]
		}
		if rest != "" {
			set[rest] = true
		}
	}

	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)

	if order := s.StringOr("order."+prefix, ""); order != "" {
		names = applyOrder(names, order)
	}

	res := make([]string, len(names))
	for i, n := range names {
		res[i] = lead + n
	}
	return res
}

// applyOrder puts the names listed in order first, in that order, followed by
// the remaining names alphabetically.
func applyOrder(names []string, order string) []string {
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = true
	}

	res := make([]string, 0, len(names))
	for _, n := range strings.FieldsFunc(strings.ToLower(order), func(r rune) bool {
		return r == ',' || r == ' ' || r == ';' || r == '\t'
	}) {
		if present[n] {
			res = append(res, n)
			delete(present, n)
		}
	}
	for _, n := range names {
		if present[n] {
			res = append(res, n)
		}
	}
	return res
}

// Class returns the constructor name of the component declared at name: the
// value of name.class, or name itself when it holds a scalar.
func Class(src Source, name string) (string, error) {
	if src.Contains(name + ".class") {
		return src.String(name + ".class")
	}
	return src.String(name)
}

// Leaf returns the last segment of a dotted name.
func Leaf(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

// FindSource reads the file called name, with any extension viper supports,
// in dir.
func FindSource(dir string, name string) (*ViperSource, error) {
	v := viper.New()
	v.SetConfigName(name)
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return NewViperSource(v), nil
}
