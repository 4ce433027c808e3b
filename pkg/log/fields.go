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
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func String(key, val string) zap.Field { return zap.String(key, val) }
func Err(err error) zap.Field          { return zap.Error(err) }

// KeyString is a cache key.
func KeyString(key string) zap.Field {
	return zap.String("key", key)
}

// ValueString is a cache value. Long values are logged by size only.
func ValueString(value string) zap.Field {
	if len(value) > 1024 {
		return zap.Int("value_size", len(value))
	}
	return zap.String("value", value)
}

// Address is a node's own address.
func Address(addr string) zap.Field {
	return zap.String("address", addr)
}

// Parent is a parent node's address.
func Parent(addr string) zap.Field {
	return zap.String("parent", addr)
}

// Path is a coordination namespace path.
func Path(path string) zap.Field {
	return zap.String("path", path)
}

func Role(role string) zap.Field {
	return zap.String("role", role)
}

// JobKind is a propagation job kind.
func JobKind(kind string) zap.Field {
	return zap.String("job", kind)
}

// Attempt logs n out of max, counting from 1.
func Attempt(n, max int) zap.Field {
	return zap.Object("attempt", attempt{n: n, max: max})
}

// Method is a full gRPC method name.
func Method(method string) zap.Field {
	return zap.String("method", method)
}

func RemoteAddr(addr string) zap.Field {
	return zap.String("remote_addr", addr)
}

func Component(name string) zap.Field {
	return zap.String("component", name)
}

// Phase is a shutdown phase.
func Phase(phase string) zap.Field {
	return zap.String("phase", phase)
}

func Goroutine(name string) zap.Field {
	return zap.String("goroutine", name)
}

type attempt struct {
	n, max int
}

func (a attempt) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("n", a.n)
	enc.AddInt("max", a.max)
	return nil
}
