// Command fmctl administers an fmcore database: schema migrations, tenants,
// the audit trail, entity history and derived-field recomputation.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
