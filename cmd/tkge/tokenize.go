package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cnclabs/tkge/pkg/knowledge"
)

func newTokenizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tokenize DATE...",
		Short: "Print the time-token ids of dates",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, date := range args {
				tokens, err := knowledge.TokenizeDate(date)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), date, tokens)
			}
			return nil
		},
	}
}
