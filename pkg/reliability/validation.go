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
	"net"
	"strconv"
	"strings"
)

const (
	// DefaultMaxKeySize is the key length limit in bytes.
	DefaultMaxKeySize = 1536
	// DefaultMaxValueSize is the value length limit (1 MB).
	DefaultMaxValueSize = 1024 * 1024
)

// DataValidator checks keys and values before they reach the store.
type DataValidator struct {
	maxKeySize   int
	maxValueSize int
}

// NewDataValidator creates a validator. Non-positive limits fall back to the
// defaults.
func NewDataValidator(maxKeySize, maxValueSize int) *DataValidator {
	if maxKeySize <= 0 {
		maxKeySize = DefaultMaxKeySize
	}
	if maxValueSize <= 0 {
		maxValueSize = DefaultMaxValueSize
	}
	return &DataValidator{
		maxKeySize:   maxKeySize,
		maxValueSize: maxValueSize,
	}
}

// ValidateKey rejects empty and oversized keys.
func (dv *DataValidator) ValidateKey(key string) error {
	if len(key) == 0 {
		return fmt.Errorf("key cannot be empty")
	}
	if len(key) > dv.maxKeySize {
		return fmt.Errorf("key too large: %d bytes (max %d bytes)", len(key), dv.maxKeySize)
	}
	return nil
}

// ValidateKeyValue validates a key and its value.
func (dv *DataValidator) ValidateKeyValue(key, value string) error {
	if err := dv.ValidateKey(key); err != nil {
		return err
	}
	if len(value) > dv.maxValueSize {
		return fmt.Errorf("value too large: %d bytes (max %d bytes)", len(value), dv.maxValueSize)
	}
	return nil
}

// ValidateAddress accepts an IP literal or host:port.
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if net.ParseIP(addr) != nil {
		return nil
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if host == "" || strings.ContainsAny(host, " /\\") {
		return fmt.Errorf("invalid address %q: bad host", addr)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return fmt.Errorf("invalid address %q: bad port", addr)
	}
	return nil
}
