// SPDX-License-Identifier: MPL-2.0

// Command modkit preprocesses deployment trees and runs module kernels.
package main

import cmd "github.com/modkit/modkit/cmd/modkit"

func main() {
	cmd.Execute()
}
