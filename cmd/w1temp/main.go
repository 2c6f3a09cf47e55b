// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// w1temp reads and configures DS18B20 temperature sensors attached through
// the Linux w1 kernel driver.
package main

import (
	"fmt"
	"os"

	"github.com/GermanBionicSystems/w1/w1dev"
	"periph.io/x/host/v3"
)

func main() {
	if _, err := host.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "w1temp: %v\n", err)
		os.Exit(1)
	}
	if err := newRootCmd(w1dev.SysfsOpener).Execute(); err != nil {
		os.Exit(1)
	}
}
