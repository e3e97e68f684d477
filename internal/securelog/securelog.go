// Package securelog logs errors without ever writing user-provided data.
// Only the caller location, an operation label, and the error type chain
// reach the log; error messages themselves may embed message content or
// usernames and are dropped.
package securelog

import (
	"errors"
	"fmt"
	"log"
	"runtime"
	"strings"
)

// Error logs err under the given operation label.
func Error(op string, err error) {
	if err == nil {
		return
	}
	loc := caller(2)
	if op == "" {
		log.Printf("error at %s types=%s", loc, Chain(err))
		return
	}
	log.Printf("error at %s op=%s types=%s", loc, op, Chain(err))
}

// Chain renders the error's type chain, outermost first.
func Chain(err error) string {
	var types []string
	seen := map[string]struct{}{}
	for err != nil {
		name := fmt.Sprintf("%T", err)
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			types = append(types, name)
		}
		err = errors.Unwrap(err)
	}
	return strings.Join(types, "->")
}

func caller(skip int) string {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	name := "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		name = fn.Name()
	}
	return fmt.Sprintf("%s:%d %s", file, line, name)
}
