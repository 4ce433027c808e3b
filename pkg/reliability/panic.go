// Copyright 2025 The axfor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package reliability

import (
	"fmt"
	"runtime/debug"

	"treeCache/pkg/log"
)

// PanicHandler is called after every recovered panic. The node binary hooks
// it up to the panic metric at startup.
var PanicHandler func(goroutineName string, panicValue interface{}, stack []byte)

// RecoverPanic recovers and logs a panic.
// Usage: defer RecoverPanic("goroutine-name")
func RecoverPanic(goroutineName string) {
	if r := recover(); r != nil {
		handlePanic(goroutineName, r)
	}
}

// RecoverPanicErr recovers a panic and stores it in errp as an error.
func RecoverPanicErr(goroutineName string, errp *error) {
	if r := recover(); r != nil {
		handlePanic(goroutineName, r)
		if errp != nil {
			*errp = fmt.Errorf("%s: panic recovered: %v", goroutineName, r)
		}
	}
}

func handlePanic(name string, r interface{}) {
	stack := debug.Stack()
	log.Error("Panic recovered",
		log.Goroutine(name),
		log.String("panic_value", fmt.Sprintf("%v", r)),
		log.String("stack", string(stack)),
		log.Component("panic-recovery"))

	if PanicHandler != nil {
		PanicHandler(name, r, stack)
	}
}

// SafeGo runs fn in a goroutine that survives a panic.
func SafeGo(name string, fn func()) {
	go func() {
		defer RecoverPanic(name)
		fn()
	}()
}
