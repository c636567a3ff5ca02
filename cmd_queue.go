package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/OnGridSystems/erc20-airdrop-cli/airdrop"
	"github.com/OnGridSystems/erc20-airdrop-cli/utils"
)

const FlagNoWait = "no-wait"

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the configuration and the recipient queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(s *session) error {
				ov, err := airdrop.NewController(s.db, nil, a.logger).Overview()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				cfg := s.cfg
				fmt.Fprintf(out, "Sender address: %s\n", cfg.Address)
				fmt.Fprintf(out, "Sender ETH balance: %s Wei\n", bigOrDash(cfg.EthBalance))
				fmt.Fprintf(out, "Token address: %s\n", cfg.Token)
				fmt.Fprintf(out, "Token balance: %s (%s units)\n", airdrop.FormatUnits(cfg.TokenBalance, cfg.Decimals), bigOrDash(cfg.TokenBalance))
				fmt.Fprintf(out, "Token decimals: %d\n", cfg.Decimals)
				fmt.Fprintf(out, "Sender nonce: %d\n", cfg.CurrentNonce)
				fmt.Fprintf(out, "Web3 endpoint: %s\n", cfg.Endpoint)
				fmt.Fprintf(out, "Chain id: %s\n", bigOrDash(cfg.ChainID))
				fmt.Fprintf(out, "Gas price: %s Wei\n\n", bigOrDash(cfg.GasPrice))

				fmt.Fprintln(out, "Recipients:")
				table := tablewriter.NewWriter(out)
				table.SetHeader([]string{"ID", "Address", "Amount", "Status", "Nonce", "Hash"})
				for _, row := range ov.Rows {
					nonce, hash := "", ""
					if n, ok := row.Tx.NonceValue(); ok {
						nonce = strconv.FormatUint(n, 10)
					}
					if row.Tx.Hash != nil {
						hash = row.Tx.Hash.Hex()
					}
					status := row.Tx.Status.String()
					if row.Tx.Receipt != nil && !row.Tx.Receipt.Succeeded() {
						status += " (reverted)"
					}
					table.Append([]string{
						strconv.FormatUint(row.Recipient.ID, 10),
						row.Recipient.Address.Hex(),
						row.Recipient.Amount,
						status,
						nonce,
						hash,
					})
				}
				table.Render()

				fmt.Fprintf(out, "\nTotal %d recipients, %s ERC-20 tokens.\n", len(ov.Rows), airdrop.FormatUnits(ov.TotalUnits, cfg.Decimals))
				fmt.Fprintf(out, "NEW %d, SIGNED %d, SENT %d, MINED %d\n",
					ov.Counts[airdrop.StatusNew], ov.Counts[airdrop.StatusSigned], ov.Counts[airdrop.StatusSent], ov.Counts[airdrop.StatusMined])
				return nil
			})
		},
	}
}

func (a *app) addCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <address> <amount>",
		Short: "Queue a transfer to one recipient",
		Long: `Queue a transfer of a decimal token amount to a checksummed address.

Example:
  airdrop add 0x70997970C51812dc3A010C7d01b50e0d17dc79C8 12.5`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(s *session) error {
				rcpt, _, err := airdrop.NewController(s.db, nil, a.logger).AddRecipient(s.cfg, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Printf("%s was added with amount %s!\n", rcpt.Address, rcpt.Amount)
				return nil
			})
		},
	}
}

func (a *app) addFileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-file <path>",
		Short: "Queue transfers from an 'address,amount' file",
		Long: `Queue one transfer per line of the file. Lines hold an address and an amount
separated by a comma, semicolon or whitespace; blank lines and lines starting
with '#' are skipped. Adding stops at the first invalid line, lines before it
stay queued.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := utils.ReadDataFromFile(args[0])
			if err != nil {
				return err
			}
			entries, err := utils.ParseRecipientLines(lines)
			if err != nil {
				return err
			}
			return a.withSession(func(s *session) error {
				ctrl := airdrop.NewController(s.db, nil, a.logger)
				for i, e := range entries {
					if _, _, err := ctrl.AddRecipient(s.cfg, e.Address, e.Amount); err != nil {
						fmt.Printf("%d recipient(s) added.\n", i)
						return fmt.Errorf("line %d: %w", e.Line, err)
					}
				}
				fmt.Printf("%d recipient(s) added.\n", len(entries))
				return nil
			})
		},
	}
}

func (a *app) signCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sign",
		Short: "Sign every queued NEW transfer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(s *session) error {
				ctrl, closeFn, err := a.controller(cmd.Context(), s)
				if err != nil {
					return err
				}
				defer closeFn()

				n, err := ctrl.Sign(cmd.Context(), s.cfg)
				if err != nil {
					return err
				}
				if n == 0 {
					fmt.Println("Nothing to sign.")
					return nil
				}
				fmt.Printf("%d TXs have been signed.\n", n)
				return nil
			})
		},
	}
}

func (a *app) sendCmd() *cobra.Command {
	var noWait bool
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Broadcast the next signed transfer",
		Long: `Broadcast the signed transfer with the lowest nonce, then wait for its
receipt unless --no-wait is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(s *session) error {
				ctrl, closeFn, err := a.controller(cmd.Context(), s)
				if err != nil {
					return err
				}
				defer closeFn()

				tx, err := ctrl.Send(cmd.Context(), s.cfg)
				if errors.Is(err, airdrop.ErrNothingToSend) {
					fmt.Println("Nothing to send.")
					return nil
				}
				if err != nil {
					return err
				}
				nonce, _ := tx.NonceValue()
				if noWait {
					fmt.Printf("Tx with %d nonce was sent: %s\n", nonce, tx.Hash.Hex())
					return nil
				}
				fmt.Printf("Tx with %d nonce was sent. Waiting for receipt...\n", nonce)
				return a.waitMined(cmd.Context(), ctrl)
			})
		},
	}
	cmd.Flags().BoolVar(&noWait, FlagNoWait, false, "Return right after broadcasting")
	return cmd
}

func (a *app) receiptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "receipt",
		Short: "Wait for the receipt of the next sent transfer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(s *session) error {
				ctrl, closeFn, err := a.controller(cmd.Context(), s)
				if err != nil {
					return err
				}
				defer closeFn()

				err = a.waitMined(cmd.Context(), ctrl)
				if errors.Is(err, airdrop.ErrNothingToWait) {
					fmt.Println("No sent transactions are waiting for a receipt.")
					return nil
				}
				return err
			})
		},
	}
}

func (a *app) waitMined(ctx context.Context, ctrl *airdrop.Controller) error {
	ctx, cancel := context.WithTimeout(ctx, a.settings.ReceiptTimeout)
	defer cancel()

	tx, err := ctrl.WaitMined(ctx)
	if err != nil {
		return err
	}
	nonce, _ := tx.NonceValue()
	if !tx.Receipt.Succeeded() {
		fmt.Printf("Tx with nonce %d was mined in block %d but reverted: %s\n", nonce, tx.Receipt.BlockNumber, tx.Hash.Hex())
		return nil
	}
	fmt.Printf("Tx with nonce %d was successfully mined in block %d!\n", nonce, tx.Receipt.BlockNumber)
	return nil
}

func bigOrDash(v *big.Int) string {
	if v == nil {
		return "-"
	}
	return v.String()
}
