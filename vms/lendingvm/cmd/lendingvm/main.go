// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luxfi/lendingvm/vms/lendingvm/cmd/serve"
)

func main() {
	cmd := &cobra.Command{
		Use:   "lendingvm",
		Short: "Runs a lending and margin trading ledger",
	}
	cmd.AddCommand(
		serve.Command(),
	)
	ctx := context.Background()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "command failed %v\n", err)
		os.Exit(1)
	}
}
