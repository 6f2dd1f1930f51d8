package scheduler

import (
	"reflect"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
)

// InferNameFromFunc returns the bare name of f, without package, receiver or
// the "-fm" suffix Go adds to method values.
func InferNameFromFunc(f any) string {
	v := reflect.ValueOf(f)
	if v.Kind() != reflect.Func {
		log.Warn().Msgf("Expected a function, got: %s", v.Kind())
		return "unknown"
	}

	funcPtr := runtime.FuncForPC(v.Pointer())
	if funcPtr == nil {
		log.Warn().Msgf("Could not retrieve function pointer for: %s", v.Type().String())
		return "unknown"
	}

	name := funcPtr.Name()
	name = name[strings.LastIndex(name, ".")+1:]
	return strings.TrimSuffix(name, "-fm")
}
