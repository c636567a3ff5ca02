package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/OnGridSystems/erc20-airdrop-cli/airdrop"
	"github.com/OnGridSystems/erc20-airdrop-cli/store"
)

const FlagDecimals = "decimals"

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the airdrop database",
		Long: `Create the airdrop database with the default endpoint, gas price and token
decimals. An existing database is never overwritten.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gasPrice, err := airdrop.ParseGasPrice(a.settings.DefaultGasPrice)
			if err != nil {
				return err
			}
			db, err := store.Open(a.settings.DataDir)
			if err != nil {
				return err
			}
			defer db.Close()

			cfg := airdrop.NewConfig(a.settings.DefaultEndpoint, gasPrice, a.settings.DefaultDecimals)
			if err := db.Init(cfg); err != nil {
				return err
			}
			a.logger.Info("Database initialized", "dir", a.settings.DataDir, "endpoint", cfg.Endpoint, "gasPrice", cfg.GasPrice)
			fmt.Printf("Db was created in %s!\n", a.settings.DataDir)
			return nil
		},
	}
}

func (a *app) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Import the sender private key",
		Long: `Read the sender private key (hex, with or without 0x) from standard input
and store it together with the derived sender address.

Example:
  airdrop import < key.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(cmd.ErrOrStderr(), "Private key: ")
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read private key: %w", err)
			}
			key := airdrop.PrivateKey(strings.TrimSpace(line))
			signer, err := airdrop.NewSigner(key)
			if err != nil {
				return err
			}
			return a.withSession(func(s *session) error {
				s.cfg.PrivateKey = key
				s.cfg.Address = signer.Address()
				if err := s.saveConfig(); err != nil {
					return err
				}
				a.logger.Info("Sender key imported", "address", signer.Address())
				fmt.Printf("Sender address: %s\n", signer.Address())
				return nil
			})
		},
	}
}

func (a *app) tokenCmd() *cobra.Command {
	var decimals uint8
	cmd := &cobra.Command{
		Use:   "token <address>",
		Short: "Set the ERC-20 token contract",
		Long: `Set the checksummed address of the token to distribute. Token decimals are
read from the contract when an endpoint is configured, unless --decimals is
given.

Example:
  airdrop token 0x5FbDB2315678afecb367f032d93F642f64180aa3 --decimals 6`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := airdrop.ParseAddress(args[0])
			if err != nil {
				return err
			}
			return a.withSession(func(s *session) error {
				target := s.cfg.Decimals
				switch {
				case cmd.Flags().Changed(FlagDecimals):
					target = decimals
				case s.cfg.Endpoint != "":
					client, err := a.dial(cmd.Context(), s.cfg.Endpoint)
					if err != nil {
						a.logger.Warn("Keeping configured decimals", "decimals", s.cfg.Decimals, "err", err)
						break
					}
					defer client.Close()
					onChain, err := airdrop.NewToken(addr, client).Decimals(cmd.Context())
					if err != nil {
						a.logger.Warn("Keeping configured decimals", "decimals", s.cfg.Decimals, "err", err)
						break
					}
					target = onChain
				}
				if err := airdrop.NewController(s.db, nil, a.logger).SetToken(s.cfg, addr, target); err != nil {
					return err
				}
				fmt.Printf("Now token for airdrop is %s (%d decimals)\n", addr, s.cfg.Decimals)
				return nil
			})
		},
	}
	cmd.Flags().Uint8Var(&decimals, FlagDecimals, airdrop.DefaultDecimals, "Token decimals, skips the on-chain lookup")
	return cmd
}

func (a *app) web3Cmd() *cobra.Command {
	return &cobra.Command{
		Use:   "web3 <url>",
		Short: "Set the JSON-RPC endpoint",
		Long: `Set the JSON-RPC endpoint. The endpoint must answer eth_chainId, and its chain
id is stored for signing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint := strings.TrimSpace(args[0])
			client, err := a.dial(cmd.Context(), endpoint)
			if err != nil {
				return fmt.Errorf("wrong node URL or connection error: %w", err)
			}
			defer client.Close()
			chainID, err := client.ChainID(cmd.Context())
			if err != nil {
				return fmt.Errorf("wrong node URL or connection error: %w", err)
			}
			return a.withSession(func(s *session) error {
				s.cfg.Endpoint = endpoint
				s.cfg.ChainID = chainID
				if err := s.saveConfig(); err != nil {
					return err
				}
				fmt.Printf("New node address: %s (chain id %s)\n", endpoint, chainID)
				return nil
			})
		},
	}
}

func (a *app) gasPriceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gasprice <wei>",
		Short: "Set the gas price",
		Long: `Set the gas price used for transactions signed from now on, in wei or with a
'gwei' suffix.

Example:
  airdrop gasprice 5000000000
  airdrop gasprice 5gwei`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gasPrice, err := airdrop.ParseGasPrice(args[0])
			if err != nil {
				return err
			}
			return a.withSession(func(s *session) error {
				s.cfg.GasPrice = gasPrice
				if err := s.saveConfig(); err != nil {
					return err
				}
				fmt.Printf("New gas price %s\n", gasPrice)
				return nil
			})
		},
	}
}

func (a *app) updateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Refresh balances and nonce, resync signed transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(s *session) error {
				if s.cfg.Address == (common.Address{}) {
					return fmt.Errorf("sender is not set, run 'import'")
				}
				if s.cfg.Token == (common.Address{}) {
					return fmt.Errorf("%w: token is not set, run 'token <address>'", airdrop.ErrInvalidAddress)
				}
				ctrl, closeFn, err := a.controller(cmd.Context(), s)
				if err != nil {
					return err
				}
				defer closeFn()

				res, err := ctrl.Update(cmd.Context(), s.cfg)
				if res != nil && res.Resynced > 0 {
					fmt.Printf("%d signed transaction(s) moved to new nonces.\n", res.Resynced)
				}
				if err != nil {
					return err
				}
				fmt.Println("Balance and nonce have been updated.")
				return nil
			})
		},
	}
}
