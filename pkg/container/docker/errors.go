// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package docker

import "fmt"

// ContainerError describes a failed container operation.
type ContainerError struct {
	// Err is the underlying error.
	Err error
	// Container is the container name or ID involved, if any.
	Container string
	// Message is a human-readable description of what went wrong.
	Message string
}

// Error returns the message with the container it concerns.
func (e *ContainerError) Error() string {
	if e.Message != "" {
		if e.Container != "" {
			return fmt.Sprintf("%s: %s (container: %s)", e.Err, e.Message, e.Container)
		}
		return fmt.Sprintf("%s: %s", e.Err, e.Message)
	}
	if e.Container != "" {
		return fmt.Sprintf("%s (container: %s)", e.Err, e.Container)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ContainerError) Unwrap() error {
	return e.Err
}

// NewContainerError creates a ContainerError.
func NewContainerError(err error, containerName, message string) *ContainerError {
	return &ContainerError{Err: err, Container: containerName, Message: message}
}
