// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package rtpio

import "errors"

// ErrMaxMTUExceeded is fatal to a Sender: a configuration bug that produced
// a packet larger than the 1500-byte MTU ceiling.
var ErrMaxMTUExceeded = errors.New("rtpio: packet exceeds maximum MTU of 1500 bytes")
