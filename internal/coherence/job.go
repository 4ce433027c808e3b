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

package coherence

// Kind is the type of a propagation job.
type Kind int

const (
	KindStore Kind = iota + 1
	KindRemove
)

func (k Kind) String() string {
	switch k {
	case KindStore:
		return "store"
	case KindRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Job is one local mutation waiting to be forwarded. Value is empty for
// removals.
type Job struct {
	Kind  Kind
	Key   string
	Value string
}

// StoreJob builds a job forwarding a write.
func StoreJob(key, value string) Job {
	return Job{Kind: KindStore, Key: key, Value: value}
}

// RemoveJob builds a job forwarding a delete.
func RemoveJob(key string) Job {
	return Job{Kind: KindRemove, Key: key}
}
