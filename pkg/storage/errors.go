// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"errors"
	"net/http"

	"github.com/stacklok/toolhive-core/httperr"

	"github.com/stacklok/mcpgw/pkg/gateway"
)

var (
	// ErrNotFound is returned when a requested descriptor does not exist.
	ErrNotFound = gateway.ErrNotFound

	// ErrAlreadyExists is returned by Create when a descriptor with the same
	// name is already stored.
	ErrAlreadyExists = httperr.WithCode(
		errors.New("server already exists"),
		http.StatusConflict,
	)

	// ErrConflict is returned when a concurrent writer kept modifying the same
	// descriptor and the write could not be applied.
	ErrConflict = httperr.WithCode(
		errors.New("concurrent modification"),
		http.StatusConflict,
	)
)
