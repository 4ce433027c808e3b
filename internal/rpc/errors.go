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

package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"treeCache/internal/coherence"
	"treeCache/internal/node"
	"treeCache/internal/topology"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrParentClientError means the parent rejected the request as invalid.
	ErrParentClientError = errors.New("rpc: parent rejected request")

	// ErrParentUnknownStatus means the parent answered with an unexpected status.
	ErrParentUnknownStatus = errors.New("rpc: parent returned unexpected status")

	// ErrTransport means the parent could not be reached.
	ErrTransport = errors.New("rpc: transport failure")
)

// invariantMarker tags Internal statuses that carry a topology invariant
// violation, so clients can tell them from other internal errors.
const invariantMarker = "topology invariant: "

// errorCodeMap maps service errors to gRPC codes
var errorCodeMap = []struct {
	err  error
	code codes.Code
}{
	{node.ErrInvalidArgument, codes.InvalidArgument},
	{topology.ErrInvalidAddress, codes.InvalidArgument},
	{node.ErrNotRoot, codes.FailedPrecondition},
}

// toStatus converts a service error to a gRPC status error
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, topology.ErrInvariantViolation) {
		return status.Error(codes.Internal, invariantMarker+err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, err.Error())
	}
	for _, m := range errorCodeMap {
		if errors.Is(err, m.err) {
			return status.Error(m.code, err.Error())
		}
	}
	return status.Error(codes.Internal, err.Error())
}

// fromStatus converts a status error returned by a parent into a typed error.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", ErrParentClientError, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return fmt.Errorf("%w: %s: %s", ErrTransport, st.Code(), st.Message())
	default:
		return fmt.Errorf("%w: %s: %s", ErrParentUnknownStatus, st.Code(), st.Message())
	}
}

// fromAssignStatus converts an AssignParent failure, restoring the root's
// own error kinds.
func fromAssignStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fromStatus(err)
	}
	switch {
	case st.Code() == codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", node.ErrNotRoot, st.Message())
	case st.Code() == codes.InvalidArgument:
		return fmt.Errorf("%w: %s", topology.ErrInvalidAddress, st.Message())
	case st.Code() == codes.Internal && strings.HasPrefix(st.Message(), invariantMarker):
		return fmt.Errorf("%w: %s", topology.ErrInvariantViolation, st.Message())
	default:
		return fromStatus(err)
	}
}

// Classify maps a client error to a propagation outcome.
func Classify(err error) coherence.Outcome {
	switch {
	case err == nil:
		return coherence.OutcomeSuccess
	case errors.Is(err, ErrParentClientError):
		return coherence.OutcomeClientError
	case errors.Is(err, ErrParentUnknownStatus):
		return coherence.OutcomeUnknownStatus
	default:
		return coherence.OutcomeTransport
	}
}
