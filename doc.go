// Copyright 2021 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package w1 is a container for drivers of devices on a 1-Wire bus managed by
// the Linux w1 kernel driver.
//
// w1reg discovers the devices and opens each with the driver of its family;
// ds18b20 is the driver of the DS18B20 temperature sensor; w1dev holds the
// byte channel to a device and the identity record; w1test provides playback
// streams to test drivers without hardware.
package w1
