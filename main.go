// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Regolith - network-driven motion controller
//
// Runs on the rover to turn operator packets into drive and actuator
// motion, and ships the operator and bench tools that talk to it.

package main

import (
	"os"

	"github.com/Thermoquad/regolith/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
