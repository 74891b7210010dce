package diff

import (
	"reflect"
	"time"

	odiff "github.com/r3labs/diff/v3"
)

// GetCustomDiffer returns a differ that treats time.Time values as
// opaque leaves instead of descending into their unexported fields.
func GetCustomDiffer() *odiff.Differ {
	ret, err := odiff.NewDiffer(odiff.CustomValueDiffers(&TimeComparer{}))
	if err != nil {
		panic(err)
	}
	return ret
}

type TimeComparer struct{}

var (
	timeType = reflect.TypeOf(time.Time{})
)

// Match check is field match this custom type
func (c TimeComparer) Match(a, b reflect.Value) bool {
	aok := a.Kind() == timeType.Kind() && a.Type() == timeType
	bok := b.Kind() == timeType.Kind() && b.Type() == timeType
	return (aok && bok) || (a.Kind() == reflect.Invalid && bok) || (b.Kind() == reflect.Invalid && aok)
}

// Diff check is diff or not
func (c TimeComparer) Diff(_ odiff.DiffType, _ odiff.DiffFunc, cl *odiff.Changelog, path []string, a reflect.Value, b reflect.Value, _ interface{}) error {
	valA := reflect.Indirect(a)
	valB := reflect.Indirect(b)

	// one side nil counts as changed
	if !valA.IsValid() || !valB.IsValid() {
		if valA.IsValid() != valB.IsValid() {
			cl.Add(odiff.UPDATE, path, a.Interface(), b.Interface())
		}
		return nil
	}

	t1 := valA.Interface().(time.Time)
	t2 := valB.Interface().(time.Time)

	if !t1.Equal(t2) {
		cl.Add(odiff.UPDATE, path, t1, t2)
	}
	return nil
}

// InsertParentDiffer do something with parent,
// time is leaf, so do not thing
func (c TimeComparer) InsertParentDiffer(_ func(path []string, a reflect.Value, b reflect.Value, p interface{}) error) {
	// do not thing
}
