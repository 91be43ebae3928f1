//go:build windows

package main

import "github.com/spf13/cobra"

// PTYs are not available on Windows; the bridge command is omitted.
func addPlatformCommands(*cobra.Command) {}
