// Copyright 2024-2026 Aiku AI

package rcfmt_test

import (
	"fmt"

	"github.com/aiku/moodle-rocketchat/pkg/connector/rcfmt"
)

func ExampleParse() {
	md := rcfmt.Parse(`<p dir="ltr"><strong>Welcome</strong> to <em>Chemistry 101</em></p>`)
	fmt.Println(md)
	// Output: *Welcome* to _Chemistry 101_
}
