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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"treeCache/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLoggerInvalidLevel(t *testing.T) {
	_, err := NewLogger(&Config{Level: "loud", Encoding: "json"})
	assert.Error(t, err)
}

func TestNewFromConfigWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "node.log")

	l, err := NewFromConfig(&config.LogConfig{
		Level:       "info",
		Encoding:    "json",
		OutputPaths: []string{path},
		Rotation:    config.RotationConfig{MaxSizeMB: 1, MaxBackups: 1},
	})
	require.NoError(t, err)

	l.Zap().With(Component("test")).Info("stored", KeyString("k1"), Address("10.0.0.2"), Attempt(2, 5))
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	assert.True(t, strings.Contains(line, `"key":"k1"`), line)
	assert.True(t, strings.Contains(line, `"component":"test"`), line)
	assert.True(t, strings.Contains(line, `"attempt":{"n":2,"max":5}`), line)
}

func TestGlobalLogger(t *testing.T) {
	prev := GetLogger()
	defer ReplaceGlobalLogger(prev)

	nop := &Logger{zap: zap.NewNop(), config: DefaultConfig}
	ReplaceGlobalLogger(nop)
	assert.Same(t, nop, GetLogger())
	assert.NotPanics(t, func() { Info("through global", Component("test")) })
}

func TestValueStringTruncates(t *testing.T) {
	f := ValueString(strings.Repeat("x", 2048))
	assert.Equal(t, "value_size", f.Key)

	f = ValueString("short")
	assert.Equal(t, "value", f.Key)
}
