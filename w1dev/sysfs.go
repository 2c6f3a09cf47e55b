// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package w1dev

import (
	"io"
	"os"
	"path/filepath"
)

// SysfsOpener opens the "rw" file of a w1 slave directory, e.g.
// /sys/bus/w1/drivers/w1_slave_driver/28-0000070e41ac/rw.
//
// Each write to the file issues a match ROM for the device followed by the
// bytes written; each read returns bytes read from the bus.
var SysfsOpener Opener = OpenerFunc(openSysfs)

func openSysfs(path string) (io.ReadWriteCloser, error) {
	return os.OpenFile(filepath.Join(path, "rw"), os.O_RDWR|os.O_APPEND, 0)
}
