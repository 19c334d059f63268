// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package version reports the version of this build. The value is normally
// overridden at link time via:
//
//  go build -ldflags "-X github.com/NVIDIA/xlclient/version.XLClientVersion=<version>"
//
package version

var XLClientVersion = "0.0.0-dev"
