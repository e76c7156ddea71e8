// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package docker

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
)

// convertEnvVars converts a map of environment variables into the sorted
// "KEY=VALUE" list Docker expects.
func convertEnvVars(envVars map[string]string) []string {
	env := make([]string, 0, len(envVars))
	for k, v := range envVars {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	slices.Sort(env)
	return env
}

// parsePort accepts "8080", "8080/tcp" or "53/udp".
func parsePort(spec string) (nat.Port, error) {
	port, proto, found := strings.Cut(spec, "/")
	if !found || proto == "" {
		proto = "tcp"
	}
	return nat.NewPort(proto, port)
}

// setupPorts exposes every container port in ports and binds it to the
// given host port on all interfaces.
func setupPorts(config *container.Config, hostConfig *container.HostConfig, ports map[string]int) error {
	if len(ports) == 0 {
		return nil
	}

	config.ExposedPorts = nat.PortSet{}
	hostConfig.PortBindings = nat.PortMap{}
	for spec, hostPort := range ports {
		natPort, err := parsePort(spec)
		if err != nil {
			return fmt.Errorf("failed to parse port %q: %w", spec, err)
		}
		if hostPort <= 0 || hostPort > 65535 {
			return fmt.Errorf("invalid host port %d for %s", hostPort, spec)
		}
		config.ExposedPorts[natPort] = struct{}{}
		hostConfig.PortBindings[natPort] = []nat.PortBinding{{
			HostIP:   "",
			HostPort: strconv.Itoa(hostPort),
		}}
	}
	return nil
}
